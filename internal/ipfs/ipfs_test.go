package ipfs_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qornetwork/taskmarket/internal/ipfs"
)

func TestPin_Deterministic(t *testing.T) {
	p := ipfs.NewMockPinner()

	cid1, uri1 := p.Pin([]byte("hello"))
	cid2, uri2 := p.Pin([]byte("hello"))

	assert.Equal(t, cid1, cid2, "same content yields same CID")
	assert.Equal(t, uri1, uri2)
	assert.True(t, strings.HasPrefix(cid1, "Qm"))
	assert.Len(t, cid1, 46)
	assert.Equal(t, "ipfs://"+cid1, uri1)
}

func TestPin_DistinctContent(t *testing.T) {
	p := ipfs.NewMockPinner()

	cid1, _ := p.Pin([]byte("hello"))
	cid2, _ := p.Pin([]byte("world"))

	assert.NotEqual(t, cid1, cid2)
}

func TestUpload(t *testing.T) {
	h := ipfs.NewHandler(ipfs.NewMockPinner())

	req := httptest.NewRequest("POST", "/api/ipfs/upload", strings.NewReader(`{"content":"task evidence"}`))
	w := httptest.NewRecorder()
	h.Upload(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cid":"Qm`)
	assert.Contains(t, w.Body.String(), `"uri":"ipfs://Qm`)
}

func TestUpload_BadBody(t *testing.T) {
	h := ipfs.NewHandler(ipfs.NewMockPinner())

	req := httptest.NewRequest("POST", "/api/ipfs/upload", strings.NewReader(`not json`))
	w := httptest.NewRecorder()
	h.Upload(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
