package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/gorilla/websocket"

	"github.com/lanternworks/relay/pkg/eventstream"
	"github.com/lanternworks/relay/pkg/invoke"
	"github.com/lanternworks/relay/pkg/ledger/inmemory"
	relaylogger "github.com/lanternworks/relay/pkg/logger"
	"github.com/lanternworks/relay/pkg/metrics"
	"github.com/lanternworks/relay/pkg/transport"
)

// recordingPublisher captures stream-completed events published by the
// gateway's worker pool.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.StreamCompletedEvent
}

func (r *recordingPublisher) PublishStreamCompleted(_ context.Context, event *eventstream.StreamCompletedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)

	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) Events() []*eventstream.StreamCompletedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*eventstream.StreamCompletedEvent, len(r.events))
	copy(out, r.events)

	return out
}

// newTestGateway starts a gateway on an ephemeral port, pointed at the
// given backend URL, with an in-memory ledger and a recording publisher.
func newTestGateway(backendURL string) (*Gateway, string, *inmemory.Store, *recordingPublisher) {
	logger := relaylogger.Nop()

	backend, err := invoke.NewHTTPClient(backendURL, logger)
	Expect(err).NotTo(HaveOccurred())

	store := inmemory.New()
	publisher := &recordingPublisher{}

	g, err := New(Config{
		ListenAddr: ":0",
		Backend:    backend,
		Publisher:  publisher,
	}, store, logger)
	Expect(err).NotTo(HaveOccurred())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())

	go func() {
		defer GinkgoRecover()
		Expect(g.RunWithListener(listener)).To(Succeed())
	}()

	return g, listener.Addr().String(), store, publisher
}

// shutdownGateway drains the gateway; call once per instance.
func shutdownGateway(g *Gateway) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	Expect(g.Shutdown(ctx)).To(Succeed())
}

func dialGateway(addr string) *websocket.Conn {
	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	Expect(err).NotTo(HaveOccurred())
	if resp != nil {
		resp.Body.Close()
	}

	return ws
}

// readUntilComplete collects response envelopes until the end-of-stream
// sentinel arrives.
func readUntilComplete(ws *websocket.Conn) []transport.Envelope {
	var frames []transport.Envelope
	for {
		Expect(ws.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
		_, payload, err := ws.ReadMessage()
		Expect(err).NotTo(HaveOccurred())

		var env transport.Envelope
		Expect(json.Unmarshal(payload, &env)).To(Succeed())
		frames = append(frames, env)

		if env.Data == transport.EndOfStreamSentinel {
			return frames
		}
	}
}

var _ = Describe("Gateway", func() {
	var (
		g         *Gateway
		addr      string
		store     *inmemory.Store
		publisher *recordingPublisher
		upstream  *httptest.Server
	)

	AfterEach(func() {
		if g != nil {
			shutdownGateway(g)
			g = nil
		}
		if upstream != nil {
			upstream.Close()
			upstream = nil
		}
	})

	Describe("New", func() {
		It("requires a backend invoker", func() {
			_, err := New(Config{}, inmemory.New(), relaylogger.Nop())
			Expect(err).To(MatchError(ErrBackendRequired))
		})
	})

	Context("when the backend streams server-sent events", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				flusher, ok := w.(http.Flusher)
				Expect(ok).To(BeTrue())

				events := []string{
					"data: {\"delta\":{\"text\":\"Hello\"}}\n\n",
					"data: {\"delta\":{\"text\":\" world\"}}\n\n",
					"data: {\"type\":\"thinking\",\"thinking\":\"considering punctuation\"}\n\n",
					"data: {\"done\":true,\"usage\":{\"input_tokens\":10,\"output_tokens\":20,\"total_tokens\":30}}\n\n",
				}

				for _, event := range events {
					fmt.Fprint(w, event)
					flusher.Flush()
				}
			}))
			g, addr, store, publisher = newTestGateway(upstream.URL)
		})

		It("forwards normalized chunks and ends with the sentinel", func() {
			ws := dialGateway(addr)
			defer ws.Close()

			Expect(ws.WriteJSON(StreamRequest{
				ConversationID: "conv-1",
				MessageID:      "msg-1",
				Input:          "Say hello",
				UserID:         "user-1",
			})).To(Succeed())

			frames := readUntilComplete(ws)
			Expect(frames).To(HaveLen(4))

			for _, frame := range frames {
				Expect(frame.ConversationID).To(Equal("conv-1"))
				Expect(frame.MessageID).To(Equal("msg-1"))
			}

			Expect(frames[0].Data).To(Equal("Hello"))
			Expect(frames[1].Data).To(Equal(" world"))
			Expect(frames[2].Thinking).To(Equal("considering punctuation"))
			Expect(frames[3].Data).To(Equal(transport.EndOfStreamSentinel))
		})

		It("assigns ids when the request omits them", func() {
			ws := dialGateway(addr)
			defer ws.Close()

			Expect(ws.WriteJSON(StreamRequest{Input: "Say hello"})).To(Succeed())

			frames := readUntilComplete(ws)
			Expect(frames[0].ConversationID).NotTo(BeEmpty())
			Expect(frames[0].MessageID).NotTo(BeEmpty())
		})

		It("serves interleaved requests on one connection in order", func() {
			ws := dialGateway(addr)
			defer ws.Close()

			Expect(ws.WriteJSON(StreamRequest{ConversationID: "conv-1", Input: "first"})).To(Succeed())
			Expect(ws.WriteJSON(StreamRequest{ConversationID: "conv-2", Input: "second"})).To(Succeed())

			first := readUntilComplete(ws)
			second := readUntilComplete(ws)

			for _, frame := range first {
				Expect(frame.ConversationID).To(Equal("conv-1"))
			}
			for _, frame := range second {
				Expect(frame.ConversationID).To(Equal("conv-2"))
			}
		})

		It("accounts the finished stream in the ledger and the event stream", func() {
			ws := dialGateway(addr)
			defer ws.Close()

			Expect(ws.WriteJSON(StreamRequest{
				ConversationID: "conv-1",
				MessageID:      "msg-1",
				Input:          "Say hello",
				UserID:         "user-1",
			})).To(Succeed())
			readUntilComplete(ws)
			ws.Close()

			// Drain the worker pool so accounting completes before assertions
			shutdownGateway(g)
			g = nil

			Expect(store.Count()).To(Equal(1))
			entries, err := store.ListRecent(context.Background(), "user-1", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ConversationID).To(Equal("conv-1"))
			Expect(entries[0].InputTokens).To(Equal(int64(10)))
			Expect(entries[0].OutputTokens).To(Equal(int64(20)))
			Expect(entries[0].TotalTokens).To(Equal(int64(30)))
			Expect(entries[0].Chunks).To(Equal(int64(4)))

			events := publisher.Events()
			Expect(events).To(HaveLen(1))
			Expect(events[0].ConversationID).To(Equal("conv-1"))
			Expect(events[0].Failed).To(BeFalse())
			Expect(events[0].Usage.TotalTokens).To(Equal(int64(30)))
			Expect(events[0].Chunks.Content).To(Equal(int64(2)))
			Expect(events[0].Chunks.Thinking).To(Equal(int64(1)))
		})

		It("tracks pipeline counters", func() {
			ws := dialGateway(addr)
			defer ws.Close()

			Expect(ws.WriteJSON(StreamRequest{Input: "Say hello"})).To(Succeed())
			readUntilComplete(ws)

			Eventually(func() int64 {
				return g.Metrics().GetSnapshot().StreamsCompleted
			}).Should(Equal(int64(1)))

			snapshot := g.Metrics().GetSnapshot()
			Expect(snapshot.StreamsStarted).To(Equal(int64(1)))
			Expect(snapshot.TotalTokens).To(Equal(int64(30)))
			Expect(snapshot.ChunksByKind["content"]).To(Equal(int64(2)))
			Expect(snapshot.ChunksByKind["completion"]).To(Equal(int64(1)))
		})

		It("serves health and metrics over plain HTTP", func() {
			resp, err := http.Get("http://" + addr + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("healthy"))

			metricsResp, err := http.Get("http://" + addr + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer metricsResp.Body.Close()
			Expect(metricsResp.StatusCode).To(Equal(http.StatusOK))

			var snapshot metrics.Snapshot
			Expect(json.NewDecoder(metricsResp.Body).Decode(&snapshot)).To(Succeed())
		})
	})

	Context("when the backend returns a JSON document", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"result":"The answer is 42."}`)
			}))
			g, addr, store, publisher = newTestGateway(upstream.URL)
		})

		It("forwards one content frame and the sentinel", func() {
			ws := dialGateway(addr)
			defer ws.Close()

			Expect(ws.WriteJSON(StreamRequest{Input: "Answer"})).To(Succeed())

			frames := readUntilComplete(ws)
			Expect(frames).To(HaveLen(2))
			Expect(frames[0].Data).To(Equal("The answer is 42."))
			Expect(frames[1].Data).To(Equal(transport.EndOfStreamSentinel))
		})
	})

	Context("when the backend fails", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model overloaded", http.StatusServiceUnavailable)
			}))
			g, addr, store, publisher = newTestGateway(upstream.URL)
		})

		It("surfaces one error frame followed by the sentinel", func() {
			ws := dialGateway(addr)
			defer ws.Close()

			Expect(ws.WriteJSON(StreamRequest{ConversationID: "conv-1", Input: "hi"})).To(Succeed())

			frames := readUntilComplete(ws)
			Expect(frames).To(HaveLen(2))
			Expect(frames[0].ErrorMessage).To(ContainSubstring("503"))
			Expect(frames[0].TraceID).NotTo(BeEmpty())
			Expect(frames[1].Data).To(Equal(transport.EndOfStreamSentinel))
		})

		It("marks the stream failed in its completion event", func() {
			ws := dialGateway(addr)
			defer ws.Close()

			Expect(ws.WriteJSON(StreamRequest{ConversationID: "conv-1", Input: "hi"})).To(Succeed())
			readUntilComplete(ws)
			ws.Close()

			shutdownGateway(g)
			g = nil

			events := publisher.Events()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Failed).To(BeTrue())
			Expect(events[0].Chunks.Errors).To(Equal(int64(1)))
			Expect(events[0].Usage).To(BeNil())

			// The failed stream is still accounted, with zero usage.
			Expect(store.Count()).To(Equal(1))
		})
	})
})
