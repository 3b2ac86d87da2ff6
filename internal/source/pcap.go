package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"ai_receptionist/internal/types"
)

const sipPort = 5060

// PCAP 回放抓包文件中的 SIP 信令
//
// INVITE 对应 started，INVITE 的 200 OK 对应 answered，
// CANCEL、INVITE 的失败响应或振铃超时对应 unanswered。
type PCAP struct {
	path        string
	ringTimeout time.Duration
	speed       float64
	logger      *slog.Logger
}

// NewPCAP 创建 PCAP 回放来电源，speed 为 0 时不等待包间隔
func NewPCAP(path string, ringTimeout time.Duration, speed float64, logger *slog.Logger) *PCAP {
	if logger == nil {
		logger = slog.Default()
	}
	return &PCAP{path: path, ringTimeout: ringTimeout, speed: speed, logger: logger}
}

// Run 按抓包时间间隔回放事件，回放结束后返回
func (p *PCAP) Run(ctx context.Context, events chan<- types.CallEvent) error {
	em := newEmitter(events)
	defer em.close()

	list, err := ReadSIPEvents(p.path, p.ringTimeout)
	if err != nil {
		return err
	}
	p.logger.Info("开始回放 SIP 抓包", "file", p.path, "events", len(list))

	var prev time.Time
	for i, ev := range list {
		if i > 0 && p.speed > 0 {
			delay := time.Duration(float64(ev.Timestamp.Sub(prev)) / p.speed)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil
				case <-timer.C:
				}
			}
		}
		prev = ev.Timestamp
		if !em.emit(ctx, ev.CallID, ev.Caller, ev.Kind) {
			return nil
		}
	}
	p.logger.Info("SIP 抓包回放完成", "file", p.path)
	return nil
}

// sipCall 回放中的一通呼叫
type sipCall struct {
	caller  types.Caller
	started time.Time
	done    bool
}

// sipTimeline 由 SIP 报文推导来电事件，事件带抓包时间戳
type sipTimeline struct {
	ringTimeout time.Duration
	calls       map[string]*sipCall
	events      []types.CallEvent
}

func (t *sipTimeline) add(callID string, caller types.Caller, kind types.EventKind, at time.Time) {
	t.events = append(t.events, types.CallEvent{CallID: callID, Caller: caller, Kind: kind, Timestamp: at})
}

// expire 把 now 之前已振铃超时的呼叫记为未接
func (t *sipTimeline) expire(now time.Time) {
	var due []string
	for id, call := range t.calls {
		if !call.done && !now.Before(call.started.Add(t.ringTimeout)) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return t.calls[due[i]].started.Before(t.calls[due[j]].started)
	})
	for _, id := range due {
		call := t.calls[id]
		call.done = true
		t.add(id, call.caller, types.EventUnanswered, call.started.Add(t.ringTimeout))
	}
}

func (t *sipTimeline) handle(sip *layers.SIP, at time.Time) {
	t.expire(at)

	callID := sip.GetCallID()
	if callID == "" {
		return
	}
	call, known := t.calls[callID]

	switch {
	case !sip.IsResponse && sip.Method == layers.SIPMethodInvite:
		if known {
			// re-INVITE
			return
		}
		caller := ParseSIPAddress(sip.GetFrom())
		t.calls[callID] = &sipCall{caller: caller, started: at}
		t.add(callID, caller, types.EventStarted, at)

	case !sip.IsResponse && sip.Method == layers.SIPMethodCancel:
		if known && !call.done {
			call.done = true
			t.add(callID, call.caller, types.EventUnanswered, at)
		}

	case sip.IsResponse && sip.Method == layers.SIPMethodInvite:
		if !known || call.done {
			return
		}
		switch {
		case sip.ResponseCode >= 200 && sip.ResponseCode < 300:
			call.done = true
			t.add(callID, call.caller, types.EventAnswered, at)
		case sip.ResponseCode >= 300:
			call.done = true
			t.add(callID, call.caller, types.EventUnanswered, at)
		}
	}
}

// ReadSIPEvents 读取 pcap 或 pcapng 文件并推导来电事件
func ReadSIPEvents(path string, ringTimeout time.Duration) ([]types.CallEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开PCAP文件失败: %w", err)
	}
	defer f.Close()

	packets, err := openPackets(f, strings.HasSuffix(strings.ToLower(path), ".pcapng"))
	if err != nil {
		return nil, err
	}

	timeline := &sipTimeline{ringTimeout: ringTimeout, calls: make(map[string]*sipCall)}
	var last time.Time
	for packet := range packets.Packets() {
		sip := sipLayer(packet)
		if sip == nil {
			continue
		}
		last = packet.Metadata().Timestamp
		timeline.handle(sip, last)
	}
	// 抓包结束时仍在振铃的呼叫按超时处理
	timeline.expire(last.Add(ringTimeout))
	return timeline.events, nil
}

func openPackets(r io.Reader, ng bool) (*gopacket.PacketSource, error) {
	if ng {
		reader, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("解析pcapng失败: %w", err)
		}
		return gopacket.NewPacketSource(reader, reader.LinkType()), nil
	}
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("解析pcap失败: %w", err)
	}
	return gopacket.NewPacketSource(reader, reader.LinkType()), nil
}

// sipLayer 取出 SIP 层，UDP 5060 由 gopacket 自动解码，TCP 需要手动解码
func sipLayer(packet gopacket.Packet) *layers.SIP {
	if layer := packet.Layer(layers.LayerTypeSIP); layer != nil {
		if sip, ok := layer.(*layers.SIP); ok {
			return sip
		}
	}

	tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok || len(tcp.Payload) == 0 {
		return nil
	}
	if tcp.SrcPort != sipPort && tcp.DstPort != sipPort {
		return nil
	}
	sip := layers.NewSIP()
	if err := sip.DecodeFromBytes(tcp.Payload, gopacket.NilDecodeFeedback); err != nil {
		return nil
	}
	return sip
}

// ParseSIPAddress 解析 From 头，例如 `"Mom" <sip:+1111111111@example.com>;tag=1`
func ParseSIPAddress(value string) types.Caller {
	var name string
	uri := strings.TrimSpace(value)

	if open := strings.Index(uri, "<"); open >= 0 {
		name = strings.Trim(strings.TrimSpace(uri[:open]), `"`)
		uri = uri[open+1:]
		if end := strings.Index(uri, ">"); end >= 0 {
			uri = uri[:end]
		}
	} else if semi := strings.Index(uri, ";"); semi >= 0 {
		uri = uri[:semi]
	}

	for _, scheme := range []string{"sips:", "sip:", "tel:"} {
		uri = strings.TrimPrefix(uri, scheme)
	}
	if at := strings.Index(uri, "@"); at >= 0 {
		uri = uri[:at]
	}
	if semi := strings.Index(uri, ";"); semi >= 0 {
		uri = uri[:semi]
	}
	return types.Caller{Name: name, Number: uri}
}
