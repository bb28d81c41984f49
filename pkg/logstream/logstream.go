// Package logstream relays the low-level driver's internal diagnostic
// stream into a structured logger. Drivers tag their lines with markers
// like "ZOO_INFO@message"; the relay maps those markers to log levels
// and reclassifies a couple of lines the driver is known to mislabel.
//
// The relay is installed per client, not process-wide: each Install
// redirects one driver's stream and Uninstall restores it to stderr.
package logstream

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mikekulinski/zkclient/pkg/logging"
	"github.com/mikekulinski/zkclient/pkg/zk"
)

// Relay pumps one driver's diagnostic stream into a Logger from its own
// goroutine until Uninstall is called.
type Relay struct {
	setter zk.StreamSetter
	log    logging.Logger
	pr     *io.PipeReader
	pw     *io.PipeWriter
	done   chan struct{}
	once   sync.Once
}

// Install redirects the driver's diagnostic stream into log and starts
// the relay goroutine.
func Install(s zk.StreamSetter, log logging.Logger) *Relay {
	pr, pw := io.Pipe()
	r := &Relay{
		setter: s,
		log:    log,
		pr:     pr,
		pw:     pw,
		done:   make(chan struct{}),
	}
	s.SetLogStream(pw)
	go r.run()
	return r
}

// Uninstall restores the driver's stream to stderr and waits for the
// relay goroutine to drain. Safe to call more than once.
func (r *Relay) Uninstall() {
	r.once.Do(func() {
		r.setter.SetLogStream(os.Stderr)
		_ = r.pw.Close()
		<-r.done
	})
}

func (r *Relay) run() {
	defer close(r.done)
	scanner := bufio.NewScanner(r.pr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			r.relayLine(line)
		}
	}
}

func (r *Relay) relayLine(line string) {
	marker, message, found := strings.Cut(line, "@")
	if !found {
		r.log.Info(line)
		return
	}

	// The level tag is the last colon-separated token before the '@'.
	tokens := strings.Split(marker, ":")
	switch tag := tokens[len(tokens)-1]; tag {
	case "ZOO_DEBUG":
		r.log.Debug(message)
	case "ZOO_INFO":
		r.log.Info(message)
	case "ZOO_WARN":
		// This line is definitely misclassified in the driver.
		if strings.Contains(line, "Exceeded deadline by") {
			r.log.Debug(message)
			return
		}
		r.log.Warn(message)
	case "ZOO_ERROR":
		// Failed connection attempts are routine while the ensemble
		// elects a leader; keep them out of the error stream.
		if strings.Contains(line, "server refused to accept the client") {
			r.log.Info(message)
			return
		}
		r.log.Error(message)
	default:
		r.log.Info(line)
	}
}
