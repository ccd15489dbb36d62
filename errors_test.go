package zip

import (
	"errors"
	"testing"
)

func TestAsIOError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"invalid archive", &InvalidArchiveError{Reason: "bad magic"}, ErrInvalidData},
		{"unsupported archive", &UnsupportedArchiveError{Reason: "method 99"}, ErrUnsupported},
		{"file not found", &FileNotFoundError{Name: "missing.txt"}, ErrNotFound},
		{"invalid password", &InvalidPasswordError{Name: "secret.txt"}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AsIOError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("AsIOError(%v) = %v, want it to satisfy errors.Is(_, %v)", tt.err, got, tt.want)
			}
		})
	}
}

func TestAsIOErrorPassesThroughUnknownKinds(t *testing.T) {
	other := errors.New("some other error")
	if got := AsIOError(other); got != other {
		t.Errorf("AsIOError(%v) = %v, want the error returned unchanged", other, got)
	}
}
