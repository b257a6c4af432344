package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/docchat/internal/model/chat"
)

func feedAll(d *Decoder, chunks ...string) []chat.StreamEvent {
	var events []chat.StreamEvent
	for _, c := range chunks {
		events = append(events, d.Feed([]byte(c))...)
	}
	d.Close()
	return events
}

func TestFeedSingleFrame(t *testing.T) {
	events := feedAll(NewDecoder(nil), "data: {\"token\":\"ab\"}\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, chat.EventToken, events[0].Kind)
	assert.Equal(t, "ab", events[0].Token)
}

func TestFeedIsChunkBoundaryInvariant(t *testing.T) {
	inputs := []string{
		"data: {\"token\":\"ab\"}\n\n",
		"data: {\"context\":\"p1\"}\n\ndata: {\"token\":\"a\\\"b\"}\r\n\r\ndata: {\"answer\":\"ab\",\"done\":true}\n\n",
	}

	for _, input := range inputs {
		want := feedAll(NewDecoder(nil), input)
		require.NotEmpty(t, want)

		for cut := 0; cut <= len(input); cut++ {
			got := feedAll(NewDecoder(nil), input[:cut], input[cut:])
			assert.Equal(t, want, got, "split at offset %d", cut)
		}
	}
}

func TestFeedByteAtATime(t *testing.T) {
	input := "data: {\"token\":\"x\"}\n\ndata: {\"token\":\"y\"}\n\n"
	d := NewDecoder(nil)
	var tokens []string
	for i := 0; i < len(input); i++ {
		for _, ev := range d.Feed([]byte{input[i]}) {
			tokens = append(tokens, ev.Token)
		}
	}
	assert.Equal(t, []string{"x", "y"}, tokens)
}

func TestFeedSkipsMalformedFrame(t *testing.T) {
	d := NewDecoder(nil)
	events := feedAll(d,
		"data: {\"token\":\"one\"}\n\n",
		"data: {\"token\": broken\n\n",
		"data: {\"token\":\"two\"}\n\n",
	)
	require.Len(t, events, 2)
	assert.Equal(t, "one", events[0].Token)
	assert.Equal(t, "two", events[1].Token)
	assert.Equal(t, 1, d.Skipped())
}

func TestFeedEmitsFramesOnce(t *testing.T) {
	d := NewDecoder(nil)
	first := d.Feed([]byte("data: {\"token\":\"a\"}\n\ndata: {\"tok"))
	second := d.Feed([]byte("en\":\"b\"}\n\n"))
	third := d.Feed([]byte("\n\n"))

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "a", first[0].Token)
	assert.Equal(t, "b", second[0].Token)
	assert.Empty(t, third)
}

func TestFeedEventKinds(t *testing.T) {
	events := feedAll(NewDecoder(nil),
		": keep-alive\n\n",
		"event: message\ndata: {\"response\":\"r\"}\n\n",
		"data: {\"error\":\"model unavailable\"}\n\n",
		"data: {\"answer\":\"full\",\"context\":\"ctx\"}\n\n",
		"data: [DONE]\n\n",
		"data: {}\n\n",
	)
	require.Len(t, events, 4)

	assert.Equal(t, chat.EventToken, events[0].Kind)
	assert.Equal(t, "r", events[0].Token)

	assert.Equal(t, chat.EventError, events[1].Kind)
	assert.Equal(t, "model unavailable", events[1].Error)

	assert.Equal(t, chat.EventDone, events[2].Kind)
	require.NotNil(t, events[2].Answer)
	assert.Equal(t, "full", *events[2].Answer)
	require.NotNil(t, events[2].Context)
	assert.Equal(t, "ctx", *events[2].Context)

	assert.Equal(t, chat.EventDone, events[3].Kind)
	assert.Nil(t, events[3].Answer)
}

func TestFeedContextOnlyFrame(t *testing.T) {
	events := feedAll(NewDecoder(nil), "data: {\"context\":\"page 3\"}\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, chat.EventContext, events[0].Kind)
	assert.Empty(t, events[0].Token)
	require.NotNil(t, events[0].Context)
	assert.Equal(t, "page 3", *events[0].Context)
}

func TestFeedKeepsEmptyAnswer(t *testing.T) {
	events := feedAll(NewDecoder(nil), "data: {\"answer\":\"\"}\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, chat.EventDone, events[0].Kind)
	require.NotNil(t, events[0].Answer)
	assert.Empty(t, *events[0].Answer)
}

func TestFeedMultiLineData(t *testing.T) {
	events := feedAll(NewDecoder(nil), "data: {\"token\":\ndata: \"joined\"}\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "joined", events[0].Token)
}

func TestCloseDiscardsPartialFrame(t *testing.T) {
	d := NewDecoder(nil)
	assert.Empty(t, d.Feed([]byte("data: {\"token\":\"lost\"}")))
	d.Close()
	assert.Empty(t, d.Feed([]byte("\n\n")))
}

func TestRunReadsUntilEOF(t *testing.T) {
	body := "data: {\"token\":\"he\"}\n\ndata: {\"token\":\"llo\"}\n\ndata: {\"token\":\"tail\"}"
	var tokens []string
	err := NewDecoder(nil).Run(context.Background(), iotest.OneByteReader(strings.NewReader(body)), func(ev chat.StreamEvent) error {
		tokens = append(tokens, ev.Token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"he", "llo"}, tokens)
}

func TestRunStopsOnEmitError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := NewDecoder(nil).Run(context.Background(), strings.NewReader("data: {\"token\":\"a\"}\n\ndata: {\"token\":\"b\"}\n\n"), func(chat.StreamEvent) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewDecoder(nil).Run(ctx, strings.NewReader("data: {\"token\":\"a\"}\n\n"), func(chat.StreamEvent) error {
		t.Fatal("no events expected after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWrapsReadErrors(t *testing.T) {
	broken := io.MultiReader(strings.NewReader("data: {\"token\":\"a\"}\n\n"), iotest.ErrReader(io.ErrUnexpectedEOF))
	var got []string
	err := NewDecoder(nil).Run(context.Background(), broken, func(ev chat.StreamEvent) error {
		got = append(got, ev.Token)
		return nil
	})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, []string{"a"}, got)
}
