package model

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"
)

// Protocol 是代理支持的协议。
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolSOCKS4 Protocol = "socks4"
	ProtocolSOCKS5 Protocol = "socks5"
)

// ParseProtocol 将代理源中各种写法归一化。无法识别时默认 socks5。
func ParseProtocol(s string) Protocol {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(s, "socks5"):
		return ProtocolSOCKS5
	case strings.Contains(s, "socks4"):
		return ProtocolSOCKS4
	case strings.HasPrefix(s, "http"):
		return ProtocolHTTP
	default:
		return ProtocolSOCKS5
	}
}

// Candidate 是从代理源抓取到、尚未验证的代理。
// 抓取完成后不再修改；唯一键为 (IP, Port)。
type Candidate struct {
	IP        string   `json:"ip"`
	Port      int      `json:"port"`
	Protocol  Protocol `json:"protocol"`
	Anonymity string   `json:"anonymity"`
	Country   string   `json:"country"`
	Source    string   `json:"source"`
}

// Key 返回 "ip:port"，用于去重。
func (c Candidate) Key() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// Address is an alias of Key kept for dialers.
func (c Candidate) Address() string {
	return c.Key()
}

// URL 返回带协议前缀的代理地址，例如 socks5://1.2.3.4:1080。
func (c Candidate) URL() string {
	return fmt.Sprintf("%s://%s", c.Protocol, c.Address())
}

// ValidatedProxy 是通过验证器处理后的代理。只能由 validator 产生。
type ValidatedProxy struct {
	Candidate
	Working    bool          `json:"working"`
	Latency    time.Duration `json:"-"`
	LastTested time.Time     `json:"-"`
}

// validatedJSON 是缓存文件中的格式：
// response_time 以秒为单位，last_tested 为 unix 秒。
type validatedJSON struct {
	Candidate
	Working      bool    `json:"working"`
	ResponseTime float64 `json:"response_time"`
	LastTested   float64 `json:"last_tested"`
}

func (v ValidatedProxy) MarshalJSON() ([]byte, error) {
	return json.Marshal(validatedJSON{
		Candidate:    v.Candidate,
		Working:      v.Working,
		ResponseTime: v.Latency.Seconds(),
		LastTested:   unixSeconds(v.LastTested),
	})
}

func (v *ValidatedProxy) UnmarshalJSON(data []byte) error {
	var raw validatedJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Candidate = raw.Candidate
	v.Working = raw.Working
	v.Latency = time.Duration(raw.ResponseTime * float64(time.Second))
	v.LastTested = fromUnixSeconds(raw.LastTested)
	return nil
}

// Snapshot 是一次验证批次的带时间戳快照。
type Snapshot struct {
	CapturedAt time.Time
	Proxies    []*ValidatedProxy
}

type snapshotJSON struct {
	Timestamp float64           `json:"timestamp"`
	Proxies   []*ValidatedProxy `json:"proxies"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	proxies := s.Proxies
	if proxies == nil {
		proxies = []*ValidatedProxy{}
	}
	return json.Marshal(snapshotJSON{Timestamp: unixSeconds(s.CapturedAt), Proxies: proxies})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.CapturedAt = fromUnixSeconds(raw.Timestamp)
	s.Proxies = raw.Proxies
	return nil
}

// Age 返回快照相对于 now 的年龄。
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(f float64) time.Time {
	if f <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
