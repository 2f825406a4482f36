package dispatcher

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestCustomIDRoundTrip(t *testing.T) {
	cmd := Command{Action: ActionBan, Subject: SubjectBot, Community: "111", Principal: "222"}
	id := cmd.CustomID()

	assert.True(t, IsCustomID(id))
	parsed, err := ParseCustomID(id)
	require.NoError(t, err)
	assert.Equal(t, ActionBan, parsed.Action)
	assert.Equal(t, SubjectBot, parsed.Subject)
	assert.Equal(t, "111", parsed.Community)
	assert.Equal(t, "222", parsed.Principal)
}

func TestParseCustomIDRejectsGarbage(t *testing.T) {
	for _, id := range []string{
		"",
		"restore_user",
		"ng:restore:user:1",
		"ng:explode:user:1:2",
		"ng:restore:admin:1:2",
		"ng:restore:user::2",
		"xx:restore:user:1:2",
	} {
		_, err := ParseCustomID(id)
		assert.Error(t, err, id)
	}
}

func TestJobQueueBounded(t *testing.T) {
	q := NewJobQueue(2)
	assert.True(t, q.Enqueue(Command{Principal: "a"}))
	assert.True(t, q.Enqueue(Command{Principal: "b"}))
	assert.False(t, q.Enqueue(Command{Principal: "c"}))
	assert.Equal(t, 2, q.Len())

	cmd, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, "a", cmd.Principal)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q2 := NewJobQueue(1)
	_, ok = q2.Dequeue(ctx)
	assert.False(t, ok)
}

func TestPoolExecutesAndReplies(t *testing.T) {
	q := NewJobQueue(8)
	handler := HandlerFunc(func(ctx context.Context, cmd Command) Result {
		if cmd.Action == ActionBan {
			return Result{Err: errors.New("missing permissions")}
		}
		return Result{Message: string(cmd.Action) + " " + cmd.Principal}
	})

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(q, handler, time.Second)
	pool.Start(ctx, 2)

	var (
		mu      sync.Mutex
		results = map[string]Result{}
		wg      sync.WaitGroup
	)
	for _, a := range []Action{ActionRestore, ActionBan} {
		wg.Add(1)
		action := a
		require.True(t, q.Enqueue(Command{
			Action:    action,
			Principal: "u1",
			Reply: func(r Result) {
				mu.Lock()
				results[string(action)] = r
				mu.Unlock()
				wg.Done()
			},
		}))
	}

	wg.Wait()
	cancel()
	pool.Wait()

	assert.Equal(t, "restore u1", results["restore"].Message)
	assert.Error(t, results["ban"].Err)
}

func TestPoolRecoversPanics(t *testing.T) {
	q := NewJobQueue(1)
	pool := NewPool(q, HandlerFunc(func(context.Context, Command) Result { panic("boom") }), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx, 1)

	done := make(chan Result, 1)
	q.Enqueue(Command{Reply: func(r Result) { done <- r }})

	select {
	case r := <-done:
		assert.ErrorContains(t, r.Err, "boom")
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
}

func TestHTTPPoolPostJSON(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	received := make(chan string, 1)
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		received <- string(ctx.PostBody())
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	}}
	go srv.Serve(ln)
	defer srv.Shutdown()

	pool := NewHTTPPool(2, 2*time.Second)
	status, err := pool.PostJSON("http://"+ln.Addr().String()+"/hook", []byte(`{"content":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusNoContent, status)
	assert.Equal(t, `{"content":"hi"}`, <-received)
}
