package mq

import "sync"

// Signal — сигнал жизненного цикла соединения.
type Signal string

// Сигналы Connection.
const (
	// SignalConnected — соединение и канал установлены (в том числе после переподключения).
	SignalConnected Signal = "connected"

	// SignalDisconnected — брокер разорвал соединение, начато переподключение.
	SignalDisconnected Signal = "disconnected"

	// SignalMaxReconnectAttemptsReached — попытки исчерпаны, автоматических подключений больше не будет.
	SignalMaxReconnectAttemptsReached Signal = "max_reconnect_attempts_reached"
)

// signalHub рассылает сигналы подписчикам без блокировки.
// Если буфер подписчика полон, сигнал для него теряется.
type signalHub struct {
	mu   sync.Mutex
	subs map[int]chan Signal
	next int
}

func newSignalHub() *signalHub {
	return &signalHub{subs: make(map[int]chan Signal)}
}

func (h *signalHub) subscribe(buffer int) (<-chan Signal, func()) {
	if buffer <= 0 {
		buffer = 1
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Signal, buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *signalHub) emit(s Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- s:
		default:
		}
	}
}
