package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/remote"
)

// Compile-time interface checks.
var (
	_ remote.JobService         = (*remote.MemoryService)(nil)
	_ remote.BatchStatusService = (*remote.MemoryService)(nil)
	_ remote.JobService         = (*remote.HTTPService)(nil)
	_ remote.BatchStatusService = (*remote.HTTPService)(nil)
)

func payload(subject, label string) remote.Payload {
	return remote.Payload{
		TaskID:      model.NewID(),
		SubjectID:   subject,
		SubjectKind: model.SubjectQuestion,
		Model:       model.ModelConfig{ID: 1, Label: label},
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := remote.NewRegistry()
	a := remote.NewMemoryService(remote.MemoryConfig{Name: "a"})
	b := remote.NewMemoryService(remote.MemoryConfig{Name: "b"})
	reg.Register("a", a)
	reg.Register("b", b)

	name, svc, err := reg.Resolve("b")
	require.NoError(t, err)
	assert.Equal(t, "b", name)
	assert.Same(t, b, svc)

	name, svc, err = reg.Resolve(remote.ProviderAuto)
	require.NoError(t, err)
	assert.Equal(t, "a", name)
	assert.Same(t, a, svc)

	require.NoError(t, reg.SetDefault("b"))
	name, _, err = reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "b", name)

	_, _, err = reg.Resolve("missing")
	require.Error(t, err)
	require.Error(t, reg.SetDefault("missing"))
}

func TestRegistryResolveEmpty(t *testing.T) {
	_, _, err := remote.NewRegistry().Resolve(remote.ProviderAuto)
	require.Error(t, err)
}

func TestRegistryList(t *testing.T) {
	reg := remote.NewRegistry()
	reg.Register("zeta", remote.NewMemoryService(remote.MemoryConfig{Name: "zeta"}))
	reg.Register("alpha", remote.NewMemoryService(remote.MemoryConfig{Name: "alpha", Batch: true}))

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.True(t, list[0].Capabilities.Batch)
	assert.False(t, list[0].Default)
	assert.True(t, list[1].Default)
}

func TestMemoryServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemoryService(remote.MemoryConfig{Steps: 2})

	h, err := mem.Submit(ctx, payload("Q1", "gpt"))
	require.NoError(t, err)

	var states []string
	for i := 0; i < 4; i++ {
		st, err := mem.GetStatus(ctx, h)
		require.NoError(t, err)
		states = append(states, st.State)
	}
	assert.Equal(t, []string{
		model.RemotePending, model.RemoteProcessing, model.RemoteSuccess, model.RemoteSuccess,
	}, states)
	assert.Equal(t, 4, mem.Reads())

	_, err = mem.GetStatus(ctx, "nope")
	require.ErrorIs(t, err, remote.ErrJobNotFound)
}

func TestMemoryServiceStop(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemoryService(remote.MemoryConfig{Steps: 5})
	h, err := mem.Submit(ctx, payload("Q1", "gpt"))
	require.NoError(t, err)

	require.NoError(t, mem.Stop(ctx, []string{h}))
	st, err := mem.GetStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, model.RemoteRevoked, st.State)
	assert.Equal(t, []string{h}, mem.Stopped())
}

func TestMemoryServiceSubmitErr(t *testing.T) {
	mem := remote.NewMemoryService(remote.MemoryConfig{
		SubmitErr: func(p remote.Payload) error {
			if p.Model.Label == "bad" {
				return errors.New("quota exceeded")
			}
			return nil
		},
	})
	_, err := mem.Submit(context.Background(), payload("Q1", "bad"))
	var de *remote.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "Q1", de.SubjectID)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Empty(t, mem.Submitted())
}

func TestDefaultResultUmbrella(t *testing.T) {
	p := payload(model.UmbrellaSubjectID, "gpt")
	p.SubjectKind = model.SubjectUmbrella
	p.Groups = []string{"Grade", "ClassA"}

	st := remote.DefaultResult(p)
	res := model.DecodeResult(st.Result)
	assert.Equal(t, model.ResultMultiGroup, res.Kind)
	assert.Len(t, res.Groups, 2)

	st = remote.DefaultResult(payload("Q1", "gpt"))
	assert.Equal(t, model.ResultPayload, model.DecodeResult(st.Result).Kind)
}

func newHTTPPair(t *testing.T, cfg remote.MemoryConfig) (*remote.MemoryService, *remote.HTTPService) {
	t.Helper()
	mem := remote.NewMemoryService(cfg)
	ts := httptest.NewServer(remote.NewHandler(mem))
	t.Cleanup(ts.Close)
	return mem, remote.NewHTTPService(remote.HTTPConfig{BaseURL: ts.URL + "/", RetryInterval: time.Millisecond})
}

func TestHTTPServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem, svc := newHTTPPair(t, remote.MemoryConfig{Steps: 1, Batch: true})

	h, err := svc.Submit(ctx, payload("Q1", "gpt"))
	require.NoError(t, err)
	assert.Equal(t, mem.Handles(), []string{h})

	st, err := svc.GetStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, model.RemotePending, st.State)

	statuses, err := svc.GetStatusBatch(ctx, []string{h, "unknown"})
	require.NoError(t, err)
	require.Contains(t, statuses, h)
	assert.NotContains(t, statuses, "unknown")
	assert.Equal(t, model.RemoteSuccess, statuses[h].State)
	assert.JSONEq(t, `{"summary":"Q1 analysed by gpt"}`, string(statuses[h].Result))

	require.NoError(t, svc.Stop(ctx, []string{h}))
	assert.Equal(t, []string{h}, mem.Stopped())

	_, err = svc.GetStatus(ctx, "unknown")
	require.Error(t, err)
}

func TestHTTPServiceSubmitRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "job-1"})
	}))
	defer ts.Close()

	svc := remote.NewHTTPService(remote.HTTPConfig{BaseURL: ts.URL, MaxTries: 5, RetryInterval: time.Millisecond})
	h, err := svc.Submit(context.Background(), payload("Q1", "gpt"))
	require.NoError(t, err)
	assert.Equal(t, "job-1", h)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPServiceSubmitClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer ts.Close()

	svc := remote.NewHTTPService(remote.HTTPConfig{BaseURL: ts.URL, MaxTries: 5, RetryInterval: time.Millisecond})
	_, err := svc.Submit(context.Background(), payload("Q1", "gpt"))

	var de *remote.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusBadRequest, de.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPServiceSubmitGivesUp(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	svc := remote.NewHTTPService(remote.HTTPConfig{BaseURL: ts.URL, MaxTries: 2, RetryInterval: time.Millisecond})
	_, err := svc.Submit(context.Background(), payload("Q1", "gpt"))

	var de *remote.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusBadGateway, de.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPServiceRejectedByMemory(t *testing.T) {
	_, svc := newHTTPPair(t, remote.MemoryConfig{
		SubmitErr: func(remote.Payload) error { return errors.New("no capacity") },
	})
	_, err := svc.Submit(context.Background(), payload("Q1", "gpt"))

	var de *remote.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusUnprocessableEntity, de.StatusCode)
}
