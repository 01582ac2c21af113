package oauth

import (
	"encoding/base64"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dvcrn/codex-oauth-proxy/internal/credentials"
)

// memStore is an in-memory credentials.Store.
type memStore struct {
	mu      sync.Mutex
	cred    *credentials.Credential
	saves   int
	saveErr error
}

func (m *memStore) Load() (*credentials.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return nil, false
	}
	c := *m.cred
	return &c, true
}

func (m *memStore) Save(cred *credentials.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	c := *cred
	m.cred = &c
	m.saves++
	return nil
}

func (m *memStore) Name() string { return "memStore" }

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

var errSaveFailed = errors.New("disk full")

func fakeJWT(payload string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString([]byte(payload)) + ".sig"
}

// freeAddr returns a loopback address that was free a moment ago.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}
