package vault

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"simjur/internal/simjur"
)

// testVaultContract exercises the behaviour every Vault backend shares.
func testVaultContract(t *testing.T, v simjur.Vault) {
	t.Helper()
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		tests := []struct {
			name    string
			key     string
			content string
		}{
			{name: "small document", key: "file-TOR-1", content: "hello world"},
			{name: "empty document", key: "file-TOR-2", content: ""},
			{name: "large document", key: "file-LPJ-3", content: strings.Repeat("x", 100_000)},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if err := v.Put(ctx, tt.key, strings.NewReader(tt.content), int64(len(tt.content))); err != nil {
					t.Fatalf("Put() error = %v", err)
				}

				var buf bytes.Buffer
				found, err := v.Get(ctx, tt.key, &buf)
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if !found {
					t.Fatal("Get() found = false, want true")
				}
				if got := buf.String(); got != tt.content {
					t.Errorf("Get() returned %d bytes, want %d", len(got), len(tt.content))
				}
			})
		}
	})

	t.Run("put replaces previous blob", func(t *testing.T) {
		key := "file-TOR-10"
		for _, content := range []string{"versi pertama", "versi kedua"} {
			if err := v.Put(ctx, key, strings.NewReader(content), int64(len(content))); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
		}

		var buf bytes.Buffer
		if _, err := v.Get(ctx, key, &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if buf.String() != "versi kedua" {
			t.Errorf("Get() = %q, want %q", buf.String(), "versi kedua")
		}
	})

	t.Run("get missing key", func(t *testing.T) {
		var buf bytes.Buffer
		found, err := v.Get(ctx, "file-LPJ-404", &buf)
		if err != nil {
			t.Fatalf("Get() error = %v, want nil", err)
		}
		if found {
			t.Error("Get() found = true for missing key")
		}
		if buf.Len() != 0 {
			t.Errorf("Get() wrote %d bytes for missing key", buf.Len())
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		if err := v.Put(ctx, "file-TOR-20", strings.NewReader("short"), 100); err == nil {
			t.Error("Put() expected size mismatch error")
		}
		found, err := v.Get(ctx, "file-TOR-20", &bytes.Buffer{})
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if found {
			t.Error("blob stored despite size mismatch")
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		key := "file-LPJ-30"
		if err := v.Put(ctx, key, strings.NewReader("lpj"), 3); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := v.Delete(ctx, key); err != nil {
				t.Fatalf("Delete() #%d error = %v", i+1, err)
			}
		}
		found, err := v.Get(ctx, key, &bytes.Buffer{})
		if err != nil || found {
			t.Errorf("Get() after Delete() = (%v, %v), want (false, nil)", found, err)
		}
	})

	t.Run("rejects path-like keys", func(t *testing.T) {
		for _, key := range []string{"", "../etc/passwd", "a/b", ".hidden"} {
			if err := v.Put(ctx, key, strings.NewReader("x"), 1); err == nil {
				t.Errorf("Put(%q) expected error", key)
			}
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		if err := v.ValidateSetup(ctx); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}
