package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/ytget/ytcipher/youtube/cipher"
)

const script = `var CK={XN:function(a,b){var c=a[0];a[0]=a[b%a.length];a[b%a.length]=c},
AE:function(a){a.reverse()},
ng:function(a,b){a.splice(0,b)}};
DK=function(a){a=a.split("");CK.ng(a,3);CK.AE(a,7);CK.XN(a,49);return a.join("")};
g.set("signature",DK(f.s))`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"ytcipher", "--no-color"}, args...))
	return strings.TrimSpace(out.String()), err
}

func TestDecompileCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.js")
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "--verify", "decompile", path)
	if err != nil {
		t.Fatalf("decompile error: %v", err)
	}
	if out != "s3 r w49" {
		t.Errorf("output = %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.js")
	_ = os.WriteFile(bad, []byte("var x=1;"), 0o644)
	if _, err := run(t, "decompile", bad); err == nil {
		t.Error("expected error for unrecognised script")
	}
}

func TestDecipherCommand(t *testing.T) {
	out, err := run(t, "decipher", "--program", "s2 r w3", "abcdefgh")
	if err != nil {
		t.Fatalf("decipher error: %v", err)
	}
	if out != "egfhdc" {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, "decipher", "--cipher", "--program", "s2 r w3", "s=abcdefgh&sp=sig&url=https%3A%2F%2Fr1.googlevideo.com%2Fvideoplayback")
	if err != nil {
		t.Fatalf("decipher --cipher error: %v", err)
	}
	if !strings.Contains(out, "sig=egfhdc") || !strings.Contains(out, "ratebypass=yes") {
		t.Errorf("output = %q", out)
	}

	if _, err := run(t, "decipher", "--program", "x9", "abc"); err == nil {
		t.Error("expected error for invalid program")
	}
}

func TestCacheCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ciphers.json")
	if err := os.WriteFile(path, []byte(`{"b": "r", "a": "s3 r w49"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--cache-file", path, "cache", "list")
	if err != nil {
		t.Fatalf("cache list error: %v", err)
	}
	if out != "a\ts3 r w49\nb\tr" {
		t.Errorf("cache list = %q", out)
	}

	out, err = run(t, "--cache-file", path, "cache", "get", "a")
	if err != nil || out != "s3 r w49" {
		t.Errorf("cache get = %q, %v", out, err)
	}
	if _, err := run(t, "--cache-file", path, "cache", "get", "zzz"); err == nil {
		t.Error("expected error for missing release")
	}

	out, err = run(t, "--cache-file", path, "cache", "path")
	if err != nil || out != path {
		t.Errorf("cache path = %q, %v", out, err)
	}
}

func TestDescribe(t *testing.T) {
	fetchCancelled := cipher.NewError(cipher.ErrCodeFetchFailed, "fetch player script").Wrap(context.Canceled)
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"cancelled during fetch", fetchCancelled, "interrupted"},
		{"plain cancel", context.Canceled, "interrupted"},
		{"network", cipher.NewError(cipher.ErrCodeFetchFailed, "fetch player script").Wrap(errors.New("reset")), "network problem"},
		{"pattern", cipher.NewError(cipher.ErrCodePatternNotFound, "no routine"), "changed shape"},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describe(tt.err).Error(); !strings.Contains(got, tt.want) {
				t.Errorf("describe() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}
