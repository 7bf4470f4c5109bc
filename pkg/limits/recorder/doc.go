// Package recorder persists usage records asynchronously.
//
// The rate limiting service hands each completed call to Enqueue, which
// returns immediately. A single worker drains a buffered channel into the
// configured storage.Store with a per-write timeout:
//
//	rec := recorder.NewRecorder(store, recorder.DefaultConfig())
//	defer rec.Close()
//
//	if err := rec.Enqueue(record); err != nil {
//	    // buffer full or shutting down; the record is lost
//	}
//
// Close drains the buffer before returning.
package recorder
