// Package platform drives meetings through a browser-automation sidecar
// reached over a websocket bridge.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

const (
	// Time allowed to write a frame to the sidecar.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the sidecar.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from the sidecar.
	maxFrameSize = 512 * 1024
)

var errBridgeClosed = errors.New("bridge closed")

type writeData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

type admissionResult struct {
	admission repositories.Admission
	err       error
}

// Bridge is one meeting session on the sidecar. It implements both the
// platform adapter and the audio source; meeting audio arrives as binary frames.
type Bridge struct {
	conn   *websocket.Conn
	send   chan writeData
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	onSpeaker func(event entities.SpeakerEvent)
	onChat    func(message entities.ChatMessage)
	onEnd     func(err error)

	admission chan admissionResult
	audioR    *io.PipeReader
	audioW    *io.PipeWriter
	audioOpen atomic.Bool

	leaving    atomic.Bool
	quit       chan struct{}
	quitOnce   sync.Once
	readDone   chan struct{}
	writerDone chan struct{}
	endOnce    sync.Once
}

var (
	_ repositories.MeetingPlatform = &Bridge{}
	_ repositories.AudioSource     = &Bridge{}
)

func newBridge(conn *websocket.Conn, logger *zap.Logger) *Bridge {
	r, w := io.Pipe()
	b := &Bridge{
		conn:       conn,
		send:       make(chan writeData, 64),
		logger:     logger,
		now:        time.Now,
		admission:  make(chan admissionResult, 1),
		audioR:     r,
		audioW:     w,
		quit:       make(chan struct{}),
		readDone:   make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go b.writePump()
	go b.readPump()
	return b
}

// Join implements repositories.MeetingPlatform
func (b *Bridge) Join(ctx context.Context, creds repositories.JoinCredentials) (repositories.Admission, error) {
	frame := JoinFrame{
		BaseFrame:   newBase(FrameJoin, b.now()),
		Platform:    string(creds.Platform),
		MeetingID:   creds.MeetingID,
		Password:    creds.Password,
		DisplayName: creds.DisplayName,
	}
	if err := b.sendJSON(ctx, frame); err != nil {
		return "", err
	}

	select {
	case res := <-b.admission:
		return res.admission, res.err
	case <-b.readDone:
		select {
		case res := <-b.admission:
			return res.admission, res.err
		default:
		}
		return "", fmt.Errorf("%w: bridge closed before admission", domain.ErrAdapterFailure)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SendMessage implements repositories.MeetingPlatform
func (b *Bridge) SendMessage(ctx context.Context, text string) error {
	return b.sendJSON(ctx, SendMessageFrame{BaseFrame: newBase(FrameSendMessage, b.now()), Text: text})
}

func (b *Bridge) OnSpeakerChange(fn func(event entities.SpeakerEvent)) {
	b.mu.Lock()
	b.onSpeaker = fn
	b.mu.Unlock()
}

func (b *Bridge) OnChatMessage(fn func(message entities.ChatMessage)) {
	b.mu.Lock()
	b.onChat = fn
	b.mu.Unlock()
}

func (b *Bridge) OnMeetingEnd(fn func(err error)) {
	b.mu.Lock()
	b.onEnd = fn
	b.mu.Unlock()
}

// Leave asks the sidecar to leave, flushes pending frames and closes the
// connection. Repeated calls are no-ops.
func (b *Bridge) Leave(ctx context.Context) error {
	if !b.leaving.CompareAndSwap(false, true) {
		return nil
	}

	err := b.sendJSON(ctx, newBase(FrameLeave, b.now()))
	b.quitOnce.Do(func() { close(b.quit) })

	select {
	case <-b.writerDone:
	case <-ctx.Done():
		b.conn.Close()
		return ctx.Err()
	}
	if errors.Is(err, errBridgeClosed) {
		return nil
	}
	return err
}

// Open implements repositories.AudioSource. The stream ends when the bridge closes.
func (b *Bridge) Open(ctx context.Context) (io.ReadCloser, error) {
	if !b.audioOpen.CompareAndSwap(false, true) {
		return nil, errors.New("bridge audio already open")
	}
	return b.audioR, nil
}

func (b *Bridge) sendJSON(ctx context.Context, frame interface{}) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	select {
	case b.send <- writeData{Type: websocket.TextMessage, Payload: payload}:
		return nil
	case <-b.quit:
		return errBridgeClosed
	case <-b.writerDone:
		return errBridgeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump pumps frames from the sidecar into the session callbacks
func (b *Bridge) readPump() {
	var cause error
	defer func() {
		close(b.readDone)
		b.audioW.Close()
		b.conn.Close()
		if !b.leaving.Load() {
			b.end(cause)
		}
	}()

	b.conn.SetReadLimit(maxFrameSize)
	b.conn.SetReadDeadline(time.Now().Add(pongWait))
	b.conn.SetPongHandler(func(string) error {
		b.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			if !b.leaving.Load() {
				b.logger.Error("Bridge connection lost", zap.Error(err))
			}
			cause = fmt.Errorf("%w: bridge connection lost: %v", domain.ErrAdapterFailure, err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			b.processFrame(data)
		case websocket.BinaryMessage:
			b.processAudio(data)
		default:
			b.logger.Warn("Received unknown frame type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps queued frames to the sidecar and keeps the connection alive
func (b *Bridge) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		b.conn.Close()
		close(b.writerDone)
	}()

	for {
		select {
		case message := <-b.send:
			if err := b.write(message); err != nil {
				b.logger.Error("Failed to write frame", zap.Error(err))
				return
			}

		case <-ticker.C:
			b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-b.quit:
			b.flush()
			b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			b.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leave"))
			return

		case <-b.readDone:
			return
		}
	}
}

func (b *Bridge) flush() {
	for {
		select {
		case message := <-b.send:
			if err := b.write(message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (b *Bridge) write(message writeData) error {
	b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return b.conn.WriteMessage(message.Type, message.Payload)
}

func (b *Bridge) processFrame(data []byte) {
	frame, err := parseEvent(data)
	if err != nil {
		b.logger.Error("Failed to parse bridge frame", zap.Error(err))
		return
	}

	switch frame.Type {
	case FrameAdmitted:
		b.admit(admissionResult{admission: repositories.AdmissionAdmitted})
	case FrameRejected:
		b.admit(admissionResult{admission: repositories.AdmissionRejected})
	case FrameSpeakerChange:
		b.mu.RLock()
		fn := b.onSpeaker
		b.mu.RUnlock()
		if fn != nil && frame.Name != "" {
			fn(entities.SpeakerEvent{Name: frame.Name, Timestamp: frame.eventTime(b.now())})
		}
	case FrameChatMessage:
		b.mu.RLock()
		fn := b.onChat
		b.mu.RUnlock()
		if fn != nil {
			fn(entities.ChatMessage{
				Sender:          frame.Sender,
				Text:            frame.Text,
				AttachmentTitle: frame.AttachmentTitle,
				AttachmentURL:   frame.AttachmentURL,
				ReceivedAt:      frame.eventTime(b.now()),
			})
		}
	case FrameMeetingEnd:
		b.end(nil)
	case FrameError:
		err := fmt.Errorf("%w: %s: %s", domain.ErrAdapterFailure, frame.Code, frame.Message)
		b.logger.Error("Bridge reported an error", zap.Error(err))
		b.admit(admissionResult{err: err})
		b.end(err)
	default:
		b.logger.Warn("Unknown frame type", zap.String("type", string(frame.Type)))
	}
}

// processAudio forwards meeting audio once the session opened it
func (b *Bridge) processAudio(data []byte) {
	if !b.audioOpen.Load() {
		return
	}
	if _, err := b.audioW.Write(data); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		b.logger.Debug("Dropping audio frame", zap.Error(err))
	}
}

func (b *Bridge) admit(res admissionResult) {
	select {
	case b.admission <- res:
	default:
	}
}

func (b *Bridge) end(err error) {
	b.endOnce.Do(func() {
		b.mu.RLock()
		fn := b.onEnd
		b.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	})
}
