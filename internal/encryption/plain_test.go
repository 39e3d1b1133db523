package encryption

import (
	"bytes"
	"strings"
	"testing"
)

func seal(t *testing.T, e *PlainEncryptor, plain []byte) []byte {
	t.Helper()
	var sealed bytes.Buffer
	if err := e.Encrypt(bytes.NewReader(plain), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	return sealed.Bytes()
}

func TestPlainEncryptor_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "short text", input: []byte("laporan pertanggungjawaban")},
		{name: "empty", input: []byte{}},
		{name: "binary", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "exactly one frame", input: bytes.Repeat([]byte("a"), plainFrameMax)},
		{name: "several frames", input: bytes.Repeat([]byte("rab "), plainFrameMax)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := NewPlainEncryptor()
			sealed := seal(t, e, tt.input)
			if !bytes.HasPrefix(sealed, []byte(plainMagic)) {
				t.Errorf("sealed output starts %q, want magic", sealed[:min(len(sealed), 8)])
			}
			if bytes.Equal(sealed, tt.input) {
				t.Error("sealed output equals input")
			}

			dec, err := e.Unlock("")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var opened bytes.Buffer
			if err := dec.Decrypt(bytes.NewReader(sealed), &opened); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(opened.Bytes(), tt.input) {
				t.Errorf("Decrypt() returned %d bytes, want %d", opened.Len(), len(tt.input))
			}
		})
	}
}

func TestPlainEncryptor_Passphrase(t *testing.T) {
	t.Parallel()
	e := NewPlainEncryptor()
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false before Setup")
	}
	if err := e.Setup("kunci-jurusan"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := e.Unlock("salah"); err == nil {
		t.Error("Unlock() with another passphrase expected error")
	}
	if _, err := e.Unlock("kunci-jurusan"); err != nil {
		t.Errorf("Unlock() error = %v", err)
	}
}

func TestPlainOpener_Rejects(t *testing.T) {
	t.Parallel()
	sealed := seal(t, NewPlainEncryptor(), []byte("dana kegiatan"))

	flipped := bytes.Clone(sealed)
	flipped[len(plainMagic)+4] ^= 0xff

	tests := []struct {
		name    string
		input   []byte
		wantErr string
	}{
		{name: "foreign header", input: []byte("NOTPLAIN payload"), wantErr: "not a plain-sealed payload"},
		{name: "short header", input: []byte("SJP"), wantErr: "reading header"},
		{name: "empty", input: nil, wantErr: "reading header"},
		{name: "flipped byte", input: flipped, wantErr: "checksum mismatch"},
		{name: "missing trailer", input: sealed[:len(sealed)-4], wantErr: "truncated"},
		{name: "cut mid frame", input: sealed[:len(plainMagic)+6], wantErr: "truncated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := plainOpener{}.Decrypt(bytes.NewReader(tt.input), &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Decrypt() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
