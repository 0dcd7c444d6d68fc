package transport

// batchSymbols splits symbols into chunks of at most size, preserving order.
// Grounded on blackbox-ws/src/subscriptions.rs: the exchange rejects a
// subscription message above a maximum symbol count per channel-message, so
// book subscriptions are sent one batch at a time rather than one giant
// request.
func batchSymbols(symbols []string, size int) [][]string {
	if size <= 0 {
		size = len(symbols)
	}
	var batches [][]string
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		batches = append(batches, symbols[start:end])
	}
	return batches
}

type subscribeMessage struct {
	Method  string   `json:"method"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
	Depth   int      `json:"depth,omitempty"`
	Snap    bool     `json:"snapshot"`
}

func instrumentSubscribeMessage(symbols []string) subscribeMessage {
	return subscribeMessage{Method: "subscribe", Channel: "instruments", Symbols: symbols, Snap: true}
}

func bookSubscribeMessage(symbols []string, depth int) subscribeMessage {
	return subscribeMessage{Method: "subscribe", Channel: "book", Symbols: symbols, Depth: depth, Snap: true}
}

type pingMessage struct {
	Method string `json:"method"`
}
