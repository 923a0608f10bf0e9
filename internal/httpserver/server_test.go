package httpserver_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/driftwatch/internal/httpserver"
)

var _ = Describe("HTTP Server", func() {
	var (
		log  *slog.Logger
		noop http.Handler
	)

	BeforeEach(func() {
		log = slog.New(slog.DiscardHandler)
		noop = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	})

	Context("server creation", func() {
		DescribeTable("accepts valid addresses",
			func(addr string) {
				srv, err := httpserver.New(addr, noop, log)
				Expect(err).NotTo(HaveOccurred())
				Expect(srv.Addr()).To(Equal(addr))
			},
			Entry("hostname", "localhost:9999"),
			Entry("IP address", "127.0.0.1:9999"),
			Entry("port only", ":9999"),
		)

		DescribeTable("rejects invalid addresses",
			func(addr string) {
				srv, err := httpserver.New(addr, noop, log)
				Expect(err).To(HaveOccurred())
				Expect(srv).To(BeNil())
			},
			Entry("too many colons", "invalid:host:port"),
			Entry("missing port", "localhost"),
			Entry("empty port", "localhost:"),
			Entry("invalid host", "bad_host!:8080"),
		)
	})

	Context("server lifecycle", func() {
		var (
			srv      *httpserver.Server
			listener net.Listener
			done     chan error
		)

		BeforeEach(func() {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})

			var err error
			srv, err = httpserver.New("127.0.0.1:0", handler, log,
				httpserver.WithTimeouts(time.Second, time.Second, time.Second))
			Expect(err).NotTo(HaveOccurred())

			listener, err = net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())

			done = make(chan error, 1)
			d, s, l := done, srv, listener
			go func() {
				d <- s.Serve(l)
			}()
		})

		AfterEach(func() {
			_ = srv.Shutdown(context.Background())
		})

		It("serves requests", func() {
			resp, err := http.Get("http://" + listener.Addr().String())
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("ok"))
		})

		It("returns nil from Serve after a graceful shutdown", func() {
			Eventually(func() error {
				conn, err := net.Dial("tcp", listener.Addr().String())
				if err == nil {
					conn.Close()
				}
				return err
			}).Should(Succeed())

			Expect(srv.Shutdown(context.Background())).To(Succeed())
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
