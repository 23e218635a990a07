package engine

// Enqueue hands a tick batch to the pipeline. It never blocks the
// caller: the upstream adapter invokes it from the websocket delivery
// goroutine, which must not stall. When the queue is full the oldest
// queued batch is shed and counted as dropped ticks.
func (e *Engine) Enqueue(batch []Tick) {
	if len(batch) == 0 || !e.accepting.Load() {
		return
	}

	for {
		select {
		case e.batchCh <- batch:
			return
		default:
		}

		select {
		case old := <-e.batchCh:
			e.ctrs.droppedTicks.Add(int64(len(old)))
		default:
			// consumer emptied the queue between the two selects; retry
		}
	}
}
