package zip

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// aesSaltLen returns the WinZip AES salt length for a given key size in
// bits: half the key size, in bytes.
func aesSaltLen(keySizeBits int) int { return keySizeBits / 8 / 2 }

// deriveAESKeys runs PBKDF2-HMAC-SHA1 over password and salt, producing an
// encryption key, an authentication key (each keySizeBits/8 bytes), and a
// 2-byte password-verification value, per the WinZip AES specification.
func deriveAESKeys(password, salt []byte, keySizeBits int) (encKey, authKey, verify []byte) {
	n := keySizeBits / 8
	derived := pbkdf2.Key(password, salt, 1000, 2*n+2, sha1.New)
	return derived[:n], derived[n : 2*n], derived[2*n:]
}

// aesCTR implements the little-endian 128-bit counter mode WinZip AES
// uses, which differs from Go's big-endian crypto/cipher CTR: the counter
// starts at 1 (not the supplied IV) and increments least-significant-byte
// first.
type aesCTR struct {
	block     cipher.Block
	counter   [16]byte
	keystream [16]byte
	pos       int
}

func newAESCTR(block cipher.Block) *aesCTR {
	c := &aesCTR{block: block, pos: 16}
	c.counter[0] = 1
	return c
}

func (c *aesCTR) XORKeyStream(dst, src []byte) {
	for i := range src {
		if c.pos == 16 {
			c.block.Encrypt(c.keystream[:], c.counter[:])
			c.incrementCounter()
			c.pos = 0
		}
		dst[i] = src[i] ^ c.keystream[c.pos]
		c.pos++
	}
}

func (c *aesCTR) incrementCounter() {
	for i := range c.counter {
		c.counter[i]++
		if c.counter[i] != 0 {
			return
		}
	}
}

// aesReader decrypts and authenticates a WinZip AES entry stream: salt and
// password-verification bytes are consumed and checked at construction,
// the ciphertext body is decrypted through aesCTR while being fed into an
// HMAC-SHA1 authenticator, and the trailing 10-byte tag is checked once
// the body is exhausted.
type aesReader struct {
	body      io.Reader
	tail      io.Reader
	ctr       *aesCTR
	mac       hmacHash
	remaining int64
	done      bool
}

type hmacHash interface {
	io.Writer
	Sum(b []byte) []byte
}

// newAESReader consumes the WinZip AES envelope (salt, password-verify
// bytes) from src, which must be bounded to exactly totalLen bytes
// (salt + verify + ciphertext + 10-byte tag), and returns a reader over
// the decrypted, authenticated payload.
func newAESReader(src io.Reader, totalLen int64, password []byte, info *AESExtra) (io.Reader, error) {
	saltLen := aesSaltLen(info.KeySize)
	overhead := int64(saltLen) + 2 + 10
	if totalLen < overhead {
		return nil, invalidArchive("AES entry too short for its envelope")
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(src, salt); err != nil {
		return nil, invalidArchive("AES salt: %v", err)
	}
	pv := make([]byte, 2)
	if _, err := io.ReadFull(src, pv); err != nil {
		return nil, invalidArchive("AES password-verify: %v", err)
	}

	encKey, authKey, verify := deriveAESKeys(password, salt, info.KeySize)
	if !hmac.Equal(pv, verify) {
		return nil, &InvalidPasswordError{}
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	payloadLen := totalLen - overhead
	return &aesReader{
		body:      io.LimitReader(src, payloadLen),
		tail:      src,
		ctr:       newAESCTR(block),
		mac:       hmac.New(sha1.New, authKey),
		remaining: payloadLen,
	}, nil
}

func (r *aesReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, r.finish()
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := io.ReadFull(r.body, p)
	if n > 0 {
		r.mac.Write(p[:n])
		r.ctr.XORKeyStream(p[:n], p[:n])
		r.remaining -= int64(n)
	}
	switch err {
	case nil:
		return n, nil
	case io.ErrUnexpectedEOF, io.EOF:
		return n, invalidArchive("AES payload truncated")
	default:
		return n, err
	}
}

func (r *aesReader) finish() error {
	if r.done {
		return io.EOF
	}
	r.done = true
	tag := make([]byte, 10)
	if _, err := io.ReadFull(r.tail, tag); err != nil {
		return invalidArchive("AES authentication tag truncated: %v", err)
	}
	if !hmac.Equal(tag, r.mac.Sum(nil)[:10]) {
		return invalidArchive("AES authentication failed")
	}
	return io.EOF
}

// aesWriter encrypts and authenticates a WinZip AES entry stream on write,
// emitting the salt and password-verify bytes immediately and the 10-byte
// authentication tag on Finish.
type aesWriter struct {
	dst io.Writer
	ctr *aesCTR
	mac hmacHash
}

// newAESWriter derives fresh key material from a random salt (read from
// rnd) and password, and writes the salt and password-verify bytes to
// dst.
func newAESWriter(dst io.Writer, password []byte, keySizeBits int, rnd io.Reader) (*aesWriter, error) {
	saltLen := aesSaltLen(keySizeBits)
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rnd, salt); err != nil {
		return nil, err
	}
	encKey, authKey, verify := deriveAESKeys(password, salt, keySizeBits)

	if _, err := dst.Write(salt); err != nil {
		return nil, err
	}
	if _, err := dst.Write(verify); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	return &aesWriter{dst: dst, ctr: newAESCTR(block), mac: hmac.New(sha1.New, authKey)}, nil
}

func (w *aesWriter) Write(p []byte) (int, error) {
	enc := make([]byte, len(p))
	w.ctr.XORKeyStream(enc, p)
	w.mac.Write(enc)
	return w.dst.Write(enc)
}

// Finish emits the 10-byte authentication tag. No more data may be
// written afterward.
func (w *aesWriter) Finish() error {
	_, err := w.dst.Write(w.mac.Sum(nil)[:10])
	return err
}
