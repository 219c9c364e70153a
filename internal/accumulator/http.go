// http.go - Serving the accumulator to remote readers.
//
// Bodies are CBOR in both directions. Errors come back as plain text with a
// status code; the Remote client maps them back to this package's sentinels.

package accumulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"privpool/internal/commitment"
)

const contentType = "application/cbor"

type insertRequest struct {
	Leaf commitment.Hash `cbor:"1,keyasint"`
}

type insertResponse struct {
	Index uint64 `cbor:"1,keyasint"`
}

// Handler exposes the tree over HTTP:
//
//	GET  /account        current StorageAccount
//	GET  /chunks/{index} leaves of one chunk in Montgomery form
//	POST /find           []Query -> []Result
//	POST /leaves         insert one leaf
func (t *Tree) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /account", func(w http.ResponseWriter, r *http.Request) {
		acc, err := t.StorageAccount(r.Context())
		if err != nil {
			httpError(w, err)
			return
		}
		writeCBOR(w, acc)
	})
	mux.HandleFunc("GET /chunks/{index}", func(w http.ResponseWriter, r *http.Request) {
		i, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
		if err != nil {
			http.Error(w, "invalid chunk index", http.StatusBadRequest)
			return
		}
		leaves, err := t.ReadChunk(r.Context(), i)
		if err != nil {
			httpError(w, err)
			return
		}
		writeCBOR(w, leaves)
	})
	mux.HandleFunc("POST /find", func(w http.ResponseWriter, r *http.Request) {
		var queries []Query
		if err := readCBOR(r.Body, &queries); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		results, err := t.Find(r.Context(), queries)
		if err != nil {
			httpError(w, err)
			return
		}
		writeCBOR(w, results)
	})
	mux.HandleFunc("POST /leaves", func(w http.ResponseWriter, r *http.Request) {
		var req insertRequest
		if err := readCBOR(r.Body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		index, err := t.Insert(req.Leaf)
		if err != nil {
			httpError(w, err)
			return
		}
		writeCBOR(w, insertResponse{Index: index})
	})
	return mux
}

func httpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrIndexOutOfRange):
		status = http.StatusNotFound
	case errors.Is(err, ErrTreeFull):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

func writeCBOR(w http.ResponseWriter, v any) {
	data, err := cbor.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func readCBOR(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// Remote reads a tree served by Handler. It satisfies ChunkReader and the
// query side of Tree.
type Remote struct {
	base   string
	client *http.Client
}

// NewRemote returns a client for the tree served at base, e.g.
// "http://localhost:8900/tree". A nil client means http.DefaultClient.
func NewRemote(base string, client *http.Client) *Remote {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{base: strings.TrimSuffix(base, "/"), client: client}
}

func (r *Remote) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := cbor.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		text := strings.TrimSpace(string(msg))
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrIndexOutOfRange, text)
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", ErrTreeFull, text)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, text)
	}
	return readCBOR(resp.Body, out)
}

func (r *Remote) StorageAccount(ctx context.Context) (StorageAccount, error) {
	var acc StorageAccount
	err := r.do(ctx, http.MethodGet, "/account", nil, &acc)
	return acc, err
}

func (r *Remote) ReadChunk(ctx context.Context, i uint64) ([]commitment.MontScalar, error) {
	var leaves []commitment.MontScalar
	if err := r.do(ctx, http.MethodGet, "/chunks/"+strconv.FormatUint(i, 10), nil, &leaves); err != nil {
		return nil, err
	}
	return leaves, nil
}

func (r *Remote) Find(ctx context.Context, queries []Query) ([]Result, error) {
	var results []Result
	if err := r.do(ctx, http.MethodPost, "/find", queries, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Remote) Contains(ctx context.Context, hash commitment.Hash, start uint64) (bool, error) {
	results, err := r.Find(ctx, []Query{{Hash: hash, StartIndex: start}})
	if err != nil {
		return false, err
	}
	return len(results) == 1 && results[0].Found, nil
}

// Insert appends leaf on the remote tree and returns its index.
func (r *Remote) Insert(ctx context.Context, leaf commitment.Hash) (uint64, error) {
	var resp insertResponse
	if err := r.do(ctx, http.MethodPost, "/leaves", insertRequest{Leaf: leaf}, &resp); err != nil {
		return 0, err
	}
	return resp.Index, nil
}
