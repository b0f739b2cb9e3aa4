// Package addrutil 提供 multiaddr 地址辅助函数
//
// 连接管理器把地址视为不透明字符串，只有传输层在这里解析它们。
package addrutil

import (
	"errors"
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// ErrInvalidAddress 无法解析的地址
var ErrInvalidAddress = errors.New("invalid multiaddr")

// Parse 解析 multiaddr 字符串
func Parse(s string) (ma.Multiaddr, error) {
	m, err := ma.NewMultiaddr(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return m, nil
}

// Has 检查地址是否包含指定协议
func Has(m ma.Multiaddr, code int) bool {
	for _, p := range m.Protocols() {
		if p.Code == code {
			return true
		}
	}
	return false
}

// HostPort 提取 net.Dial 使用的网络类型和 host:port
//
// 只看前两段（IP/DNS + TCP/UDP），后续的 /quic-v1、/ws 由调用方判断。
func HostPort(m ma.Multiaddr) (network, hostport string, err error) {
	var host string
	for _, code := range []int{ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6} {
		if v, verr := m.ValueForProtocol(code); verr == nil {
			host = v
			break
		}
	}
	if host == "" {
		return "", "", fmt.Errorf("%w: %s: missing host", ErrInvalidAddress, m)
	}

	if port, perr := m.ValueForProtocol(ma.P_TCP); perr == nil {
		return "tcp", net.JoinHostPort(host, port), nil
	}
	if port, perr := m.ValueForProtocol(ma.P_UDP); perr == nil {
		return "udp", net.JoinHostPort(host, port), nil
	}
	return "", "", fmt.Errorf("%w: %s: missing port", ErrInvalidAddress, m)
}

// ParseHostPort 解析地址字符串并提取 host:port
func ParseHostPort(s string) (ma.Multiaddr, string, string, error) {
	m, err := Parse(s)
	if err != nil {
		return nil, "", "", err
	}
	network, hostport, err := HostPort(m)
	if err != nil {
		return nil, "", "", err
	}
	return m, network, hostport, nil
}

// FromNetAddr 把 net.Addr 转为 multiaddr 字符串，并追加 suffix（如 "/quic-v1"）
func FromNetAddr(a net.Addr, suffix string) (string, error) {
	m, err := manet.FromNetAddr(a)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if suffix != "" {
		s, err := ma.NewMultiaddr(suffix)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		m = m.Encapsulate(s)
	}
	return m.String(), nil
}
