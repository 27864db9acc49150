package sis

// Observer receives pipeline events for metrics.
type Observer interface {
	TokenRefreshed(provider string)
	PageFetched(endpoint string, items int)
	ChunkDecoded(endpoint, strategy string, rows int)
}

type nopObserver struct{}

func (nopObserver) TokenRefreshed(string)            {}
func (nopObserver) PageFetched(string, int)          {}
func (nopObserver) ChunkDecoded(string, string, int) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
