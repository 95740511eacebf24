package core

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// defaultWriteDelay is the coalescing window for index persistence.
const defaultWriteDelay = 100 * time.Millisecond

// indexWriter persists the disk index in the background. Rapid
// mutations coalesce: the latest scheduled snapshot replaces any
// pending one and a single write happens once the delay elapses, so
// write frequency is bounded to once per delay window no matter how
// many stores arrive. Writes never race: writeMu serializes them.
type indexWriter struct {
	dir   string
	delay time.Duration

	mu        sync.Mutex
	pending   *diskIndex
	scheduled bool

	// held for the duration of every on-disk write
	writeMu sync.Mutex
}

func newIndexWriter(dir string, delay time.Duration) *indexWriter {
	if delay <= 0 {
		delay = defaultWriteDelay
	}
	return &indexWriter{dir: dir, delay: delay}
}

// Schedule records the snapshot as the pending index state. If no
// write is scheduled yet, one fires after the coalescing delay; later
// calls inside the window only replace the snapshot, they do not reset
// the delay.
func (w *indexWriter) Schedule(snapshot *diskIndex) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = snapshot
	if w.scheduled {
		return
	}
	w.scheduled = true
	time.AfterFunc(w.delay, func() {
		if err := w.writeLatest(); err != nil {
			// retried implicitly on the next scheduled cycle and
			// recoverable from the backup on restart
			log.Warn().Err(err).Msg("Deferred index write failed")
		}
	})
}

// Flush forces durability: it waits for any in-flight write to finish
// and then writes the latest pending snapshot synchronously. When it
// returns, the on-disk index matches the last Schedule call.
func (w *indexWriter) Flush() error {
	return w.writeLatest()
}

// writeLatest takes the pending snapshot, if any, and writes it.
// Taking writeMu first means a concurrent in-flight write completes
// before this one inspects the pending state.
func (w *indexWriter) writeLatest() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	snapshot := w.pending
	w.pending = nil
	w.scheduled = false
	w.mu.Unlock()

	if snapshot == nil {
		return nil
	}
	return w.write(snapshot)
}

func (w *indexWriter) write(snapshot *diskIndex) error {
	indexPath := filepath.Join(w.dir, indexFilename)
	backupPath := filepath.Join(w.dir, indexBackupFilename)

	// keep the previous index as a recovery point; best effort
	if err := os.Rename(indexPath, backupPath); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Msg("Could not back up index")
	}
	if err := writeIndexFile(indexPath, snapshot); err != nil {
		return err
	}
	log.Trace().Int("entries", len(snapshot.Entries)).Msg("Index written")
	return nil
}
