package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/gorilla/websocket"

	"github.com/lanternworks/relay/pkg/transport"
)

// dialIntoHub upgrades one client connection and registers its server side
// in the hub under the given id. The returned cleanup closes both ends.
func dialIntoHub(hub *Hub, id string) (*websocket.Conn, func()) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	registered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		Expect(err).NotTo(HaveOccurred())
		hub.Register(id, ws)
		close(registered)
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, resp, err := websocket.DefaultDialer.Dial(url, nil)
	Expect(err).NotTo(HaveOccurred())
	if resp != nil {
		resp.Body.Close()
	}

	Eventually(registered).Should(BeClosed())

	return client, func() {
		client.Close()
		srv.Close()
	}
}

func readFrame(client *websocket.Conn) string {
	Expect(client.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
	_, payload, err := client.ReadMessage()
	Expect(err).NotTo(HaveOccurred())

	return string(payload)
}

var _ = Describe("Hub", func() {
	var (
		hub *Hub
		ctx context.Context
	)

	BeforeEach(func() {
		hub = NewHub(nil)
		ctx = context.Background()
	})

	It("delivers frames to a registered connection", func() {
		client, cleanup := dialIntoHub(hub, "conn-1")
		defer cleanup()

		Expect(hub.Count()).To(Equal(1))
		Expect(hub.Send(ctx, "conn-1", []byte(`{"data":"hello"}`))).To(Succeed())
		Expect(readFrame(client)).To(Equal(`{"data":"hello"}`))
	})

	It("returns a delivery error for an unknown connection id", func() {
		err := hub.Send(ctx, "nope", []byte("payload"))
		Expect(err).To(HaveOccurred())

		var deliveryErr *transport.DeliveryError
		Expect(errors.As(err, &deliveryErr)).To(BeTrue())
		Expect(deliveryErr.ConnectionID).To(Equal("nope"))
		Expect(errors.Is(err, transport.ErrConnectionNotFound)).To(BeTrue())
	})

	It("stops delivering after the connection is removed", func() {
		client, cleanup := dialIntoHub(hub, "conn-1")
		defer cleanup()

		hub.Remove("conn-1")
		Expect(hub.Count()).To(BeZero())

		err := hub.Send(ctx, "conn-1", []byte("payload"))
		Expect(errors.Is(err, transport.ErrConnectionNotFound)).To(BeTrue())

		// Remove closed the socket; the client sees the close.
		Expect(client.SetReadDeadline(time.Now().Add(time.Second))).To(Succeed())
		_, _, readErr := client.ReadMessage()
		Expect(readErr).To(HaveOccurred())
	})

	It("closes the previous socket when an id is reused", func() {
		first, cleanupFirst := dialIntoHub(hub, "conn-1")
		defer cleanupFirst()
		second, cleanupSecond := dialIntoHub(hub, "conn-1")
		defer cleanupSecond()

		Expect(hub.Count()).To(Equal(1))
		Expect(hub.Send(ctx, "conn-1", []byte("to-second"))).To(Succeed())
		Expect(readFrame(second)).To(Equal("to-second"))

		// The replaced socket was closed server-side; its reads fail.
		Expect(first.SetReadDeadline(time.Now().Add(time.Second))).To(Succeed())
		_, _, err := first.ReadMessage()
		Expect(err).To(HaveOccurred())
	})

	It("drops every connection on CloseAll", func() {
		_, cleanupA := dialIntoHub(hub, "conn-a")
		defer cleanupA()
		_, cleanupB := dialIntoHub(hub, "conn-b")
		defer cleanupB()

		Expect(hub.Count()).To(Equal(2))
		hub.CloseAll()
		Expect(hub.Count()).To(BeZero())

		Expect(errors.Is(hub.Send(ctx, "conn-a", []byte("x")), transport.ErrConnectionNotFound)).To(BeTrue())
	})
})
