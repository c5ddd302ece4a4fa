package playback

const eventBufferSize = 16

// Subscription provides event channels for a subscriber.
type Subscription struct {
	StateChanged       <-chan StateChange
	SeekCompleted      <-chan SeekCompleted
	Elapsed            <-chan Elapsed
	DurationUpdated    <-chan DurationUpdated
	MetadataReceived   <-chan MetadataReceived
	ItemEnded          <-chan ItemEnded
	LoadFailed         <-chan ErrorEvent
	TransportRecreated <-chan TransportRecreated
	BoundaryCrossed    <-chan BoundaryCrossed
	Done               <-chan struct{}

	// Internal write channels
	stateCh     chan StateChange
	seekCh      chan SeekCompleted
	elapsedCh   chan Elapsed
	durationCh  chan DurationUpdated
	metadataCh  chan MetadataReceived
	endedCh     chan ItemEnded
	errorCh     chan ErrorEvent
	recreatedCh chan TransportRecreated
	boundaryCh  chan BoundaryCrossed
	doneCh      chan struct{}
}

// newSubscription creates a new subscription with buffered channels.
func newSubscription() *Subscription {
	s := &Subscription{
		stateCh:     make(chan StateChange, eventBufferSize),
		seekCh:      make(chan SeekCompleted, eventBufferSize),
		elapsedCh:   make(chan Elapsed, eventBufferSize),
		durationCh:  make(chan DurationUpdated, eventBufferSize),
		metadataCh:  make(chan MetadataReceived, eventBufferSize),
		endedCh:     make(chan ItemEnded, eventBufferSize),
		errorCh:     make(chan ErrorEvent, eventBufferSize),
		recreatedCh: make(chan TransportRecreated, eventBufferSize),
		boundaryCh:  make(chan BoundaryCrossed, eventBufferSize),
		doneCh:      make(chan struct{}),
	}
	s.StateChanged = s.stateCh
	s.SeekCompleted = s.seekCh
	s.Elapsed = s.elapsedCh
	s.DurationUpdated = s.durationCh
	s.MetadataReceived = s.metadataCh
	s.ItemEnded = s.endedCh
	s.LoadFailed = s.errorCh
	s.TransportRecreated = s.recreatedCh
	s.BoundaryCrossed = s.boundaryCh
	s.Done = s.doneCh
	return s
}

// close signals subscribers to stop by closing doneCh.
func (s *Subscription) close() {
	close(s.doneCh)
}

// send delivers e on ch without blocking, dropping it if the buffer is full.
func send[E any](ch chan E, e E) {
	select {
	case ch <- e:
	default:
	}
}

func (s *Subscription) sendState(e StateChange)            { send(s.stateCh, e) }
func (s *Subscription) sendSeek(e SeekCompleted)           { send(s.seekCh, e) }
func (s *Subscription) sendElapsed(e Elapsed)              { send(s.elapsedCh, e) }
func (s *Subscription) sendDuration(e DurationUpdated)     { send(s.durationCh, e) }
func (s *Subscription) sendMetadata(e MetadataReceived)    { send(s.metadataCh, e) }
func (s *Subscription) sendEnded(e ItemEnded)              { send(s.endedCh, e) }
func (s *Subscription) sendError(e ErrorEvent)             { send(s.errorCh, e) }
func (s *Subscription) sendRecreated(e TransportRecreated) { send(s.recreatedCh, e) }
func (s *Subscription) sendBoundary(e BoundaryCrossed)     { send(s.boundaryCh, e) }
