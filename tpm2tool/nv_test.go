package tpm2tool

import (
	"bytes"
	"errors"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/google/go-tpm/tpm2"
)

func ownerObject(ft *fakeTPM) *LoadedObject {
	return &LoadedObject{Handle: tpm2.HandleOwner, Session: PasswordSession(nil), dev: ft}
}

func TestNVDefine(t *testing.T) {
	ft := newFakeTPM(t)

	cfg := &NVDefineConfig{
		Index:      0x01500016,
		Size:       32,
		Attributes: 0x4004000a,
		NVAuth:     []byte("index-auth"),
	}
	if err := NVDefine(ft, ownerObject(ft), cfg); err != nil {
		t.Fatal(err)
	}

	tmpl := ft.lastNVTemplate
	if tmpl == nil {
		t.Fatal("no template recorded")
	}
	if tmpl.Index != cfg.Index || tmpl.DataSize != cfg.Size {
		t.Errorf("template index/size = 0x%x/%d, want 0x%x/%d",
			uint32(tmpl.Index), tmpl.DataSize, uint32(cfg.Index), cfg.Size)
	}
	if uint32(tmpl.Attributes) != cfg.Attributes {
		t.Errorf("attributes = 0x%x, want 0x%x", uint32(tmpl.Attributes), cfg.Attributes)
	}
	if !bytes.Equal(ft.lastNVAuth, cfg.NVAuth) {
		t.Errorf("nv auth = %q, want %q", ft.lastNVAuth, cfg.NVAuth)
	}
}

func TestNVDefineZeroSize(t *testing.T) {
	ft := newFakeTPM(t)

	if err := NVDefine(ft, ownerObject(ft), &NVDefineConfig{Index: 0x01500017}); err != nil {
		t.Fatal(err)
	}
	if ft.lastNVTemplate == nil || ft.lastNVTemplate.DataSize != 0 {
		t.Fatal("zero-size define should reach the TPM with size 0")
	}
}

func TestNVDefineZeroIndex(t *testing.T) {
	ft := newFakeTPM(t)

	err := NVDefine(ft, ownerObject(ft), &NVDefineConfig{Index: 0, Size: 8})
	var oerr *OptionError
	if !errors.As(err, &oerr) {
		t.Fatalf("got %v, want OptionError", err)
	}
	if ft.lastNVTemplate != nil {
		t.Fatal("define command issued for index 0")
	}
}

func TestNVDefinePolicyFile(t *testing.T) {
	ft := newFakeTPM(t)
	policy := bytes.Repeat([]byte{0xcd}, 32)
	path := filepath.Join(t.TempDir(), "policy")
	if err := ioutil.WriteFile(path, policy, 0600); err != nil {
		t.Fatal(err)
	}

	cfg := &NVDefineConfig{Index: 0x01500018, Size: 8, PolicyFile: path}
	if err := NVDefine(ft, ownerObject(ft), cfg); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ft.lastNVTemplate.AuthPolicy, policy) {
		t.Fatalf("auth policy = %x, want %x", ft.lastNVTemplate.AuthPolicy, policy)
	}
}

func TestNVDefineOversizedPolicy(t *testing.T) {
	ft := newFakeTPM(t)
	path := filepath.Join(t.TempDir(), "policy")
	if err := ioutil.WriteFile(path, bytes.Repeat([]byte{0x01}, MaxDigestSize+1), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := &NVDefineConfig{Index: 0x01500019, Size: 8, PolicyFile: path}
	if err := NVDefine(ft, ownerObject(ft), cfg); err == nil {
		t.Fatal("oversized policy file should fail")
	}
	if ft.lastNVTemplate != nil {
		t.Fatal("define command issued with an oversized policy")
	}
}

func TestNVDefineResultCode(t *testing.T) {
	ft := newFakeTPM(t)
	ft.nvDefineErr = protocolErr("TPM2_NV_DefineSpace")

	err := NVDefine(ft, ownerObject(ft), &NVDefineConfig{Index: 0x0150001a, Size: 8})
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want ProtocolError", err)
	}
}

func TestNVRead(t *testing.T) {
	ft := newFakeTPM(t)

	if err := NVDefine(ft, ownerObject(ft), &NVDefineConfig{Index: 0x0150001b, Size: 4}); err != nil {
		t.Fatal(err)
	}
	ft.nv[0x0150001b].data = []byte{1, 2, 3, 4}

	got, err := NVRead(ft, 0x0150001b, 0x0150001b, "")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("read %v, want [1 2 3 4]", got)
	}

	if _, err := NVRead(ft, 0x01f00000, 0x01f00000, ""); err == nil {
		t.Fatal("reading an undefined index should fail")
	}
}
