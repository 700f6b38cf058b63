// Package interrupt runs registered shutdown handlers, last registered
// first, when the process receives SIGINT or SIGTERM or when a shutdown is
// requested.
package interrupt

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/Hubmakerlabs/localstr/pkg/qu"
	"github.com/Hubmakerlabs/localstr/pkg/slog"
)

var log, _ = slog.New(os.Stderr)

type handler struct {
	source string
	fn     func()
}

var (
	requested atomic.Bool
	// ShutdownRequestChan is closed to request a shutdown without a signal.
	ShutdownRequestChan = qu.T()
	// HandlersDone is closed once every handler has returned.
	HandlersDone = qu.T()

	mx       sync.Mutex
	handlers []handler
	running  bool
	once     sync.Once
)

func start() {
	once.Do(func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case sig := <-sigs:
				log.I.Ln("received signal", sig)
			case <-ShutdownRequestChan.Wait():
				log.W.Ln("shutdown requested")
			}
			signal.Stop(sigs)
			requested.Store(true)
			run()
		}()
	})
}

func run() {
	mx.Lock()
	running = true
	hs := handlers
	handlers = nil
	mx.Unlock()
	for i := len(hs) - 1; i >= 0; i-- {
		log.D.Ln("running shutdown handler from", hs[i].source)
		hs[i].fn()
	}
	HandlersDone.Q()
}

// AddHandler registers fn to run on shutdown. Registered after shutdown has
// begun, fn runs immediately.
func AddHandler(fn func()) {
	start()
	_, file, line, _ := runtime.Caller(1)
	src := fmt.Sprintf("%s:%d", file, line)
	mx.Lock()
	if running {
		mx.Unlock()
		fn()
		return
	}
	handlers = append(handlers, handler{src, fn})
	mx.Unlock()
	log.T.Ln("shutdown handler added by", src)
}

// Request starts a shutdown as if a signal had arrived.
func Request() {
	start()
	if requested.Swap(true) {
		return
	}
	ShutdownRequestChan.Q()
}

// Requested reports whether shutdown has begun.
func Requested() bool { return requested.Load() }
