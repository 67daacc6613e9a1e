package fetch

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pricetracker-backend/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	slept []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func (s *sleepRecorder) total() time.Duration {
	var sum time.Duration
	for _, d := range s.slept {
		sum += d
	}
	return sum
}

func newTestClient(t testing.TB, opts Options) (*Client, *sleepRecorder, *telemetry.RecordingAPI) {
	recorder := &sleepRecorder{}
	tel := telemetry.NewRecordingAPI()
	opts.Sleep = recorder.sleep
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	opts.Rand = rand.New(rand.NewPCG(1, 2))
	return NewClient(tel, opts), recorder, tel
}

func TestFetchRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("<html>product</html>"))
	}))
	defer server.Close()

	client, recorder, _ := newTestClient(t, Options{RetryLimit: 5})
	result := client.Get(context.Background(), server.URL)

	require.True(t, result.OK)
	require.NotNil(t, result.Response)
	require.Equal(t, 200, result.StatusCode())
	require.Equal(t, 3, result.Attempts)
	require.Equal(t, int32(3), calls.Load())

	require.Len(t, recorder.slept, 2)
	require.Equal(t, recorder.slept, result.Delays)
	require.GreaterOrEqual(t, recorder.slept[0], time.Second)
	require.Less(t, recorder.slept[0], 2*time.Second)
	require.GreaterOrEqual(t, recorder.slept[1], 2*time.Second)
	require.Less(t, recorder.slept[1], 3*time.Second)
	require.Greater(t, recorder.slept[1], recorder.slept[0])
	require.GreaterOrEqual(t, recorder.total(), 3*time.Second)
}

func TestFetchBackoffIsCapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, recorder, tel := newTestClient(t, Options{RetryLimit: 9})
	result := client.Get(context.Background(), server.URL)

	require.False(t, result.OK)
	require.Nil(t, result.Response)
	require.Equal(t, 9, result.Attempts)
	// no sleep after the final attempt
	require.Len(t, recorder.slept, 8)

	for i, d := range recorder.slept {
		require.LessOrEqual(t, d, MaxBackoff, "delay %d", i)
		if i > 0 {
			require.GreaterOrEqual(t, d, recorder.slept[i-1], "delay %d", i)
		}
	}
	require.Equal(t, MaxBackoff, recorder.slept[len(recorder.slept)-1])
	require.Len(t, tel.Find(telemetry.LevelBroken, report_client_fetch), 1)
}

func TestFetchNotFoundShortCircuits(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, recorder, _ := newTestClient(t, Options{RetryLimit: 5})
	result := client.Get(context.Background(), server.URL)

	require.True(t, result.OK)
	require.Equal(t, http.StatusNotFound, result.StatusCode())
	require.Equal(t, int32(1), calls.Load())
	require.Empty(t, recorder.slept)
}

func TestFetchBotChallengeIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte("<html><head><title>Robot or human?</title></head></html>"))
			return
		}
		w.Write([]byte("<html>product</html>"))
	}))
	defer server.Close()

	client, _, tel := newTestClient(t, Options{RetryLimit: 3, AntiBotCheck: true})
	result := client.Get(context.Background(), server.URL)
	require.True(t, result.OK)
	require.Equal(t, 2, result.Attempts)
	require.NotEmpty(t, tel.Find(telemetry.LevelWarning, report_client_attempt))

	// with the check disabled the challenge page counts as a success
	calls.Store(0)
	client, _, _ = newTestClient(t, Options{RetryLimit: 3})
	result = client.Get(context.Background(), server.URL)
	require.True(t, result.OK)
	require.Equal(t, 1, result.Attempts)
}

func TestFetchTransportErrorsAreRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, recorder, _ := newTestClient(t, Options{RetryLimit: 3, ConnectTimeout: time.Second})
	result := client.Get(context.Background(), url)
	require.False(t, result.OK)
	require.Nil(t, result.Response)
	require.Equal(t, 3, result.Attempts)
	require.Len(t, recorder.slept, 2)
}

func TestFetchStopsWhenCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(telemetry.NewRecordingAPI(), Options{
		RetryLimit: 5,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})
	result := client.Get(ctx, server.URL)
	require.False(t, result.OK)
	require.Equal(t, 1, result.Attempts)
}

func TestFetchSendsBrowserHeaders(t *testing.T) {
	seen := make(chan http.Header, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	pool := NewHeaderPool([]HeaderSet{{
		"user-agent":      "Mozilla/5.0 (X11; Linux x86_64) Test/1.0",
		"accept-language": "en-US",
	}}, rand.New(rand.NewPCG(3, 4)))

	client, _, _ := newTestClient(t, Options{Headers: pool})
	result := client.Fetch(context.Background(), Request{
		Url:     server.URL,
		Headers: map[string]string{"accept-language": "de-DE", "x-caller": "1"},
	})
	require.True(t, result.OK)

	headers := <-seen
	require.Equal(t, "Mozilla/5.0 (X11; Linux x86_64) Test/1.0", headers.Get("User-Agent"))
	require.Equal(t, "de-DE", headers.Get("Accept-Language"))
	require.Equal(t, "1", headers.Get("X-Caller"))
}

func TestNewBackoffSequence(t *testing.T) {
	next := newBackoff(rand.New(rand.NewPCG(5, 6)))
	expectedBase := []time.Duration{1, 2, 4, 8, 16}
	for _, base := range expectedBase {
		d := next()
		require.GreaterOrEqual(t, d, base*time.Second)
		require.Less(t, d, (base+1)*time.Second)
	}
	for range 5 {
		require.Equal(t, MaxBackoff, next())
	}
}
