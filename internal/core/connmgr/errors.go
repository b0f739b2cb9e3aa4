package connmgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/dep2p/go-comms/internal/core/muxer/yamux"
	"github.com/dep2p/go-comms/internal/core/peervalidator"
	"github.com/dep2p/go-comms/internal/core/protocol"
	"github.com/dep2p/go-comms/internal/core/security/noise"
	"github.com/dep2p/go-comms/internal/core/transport/addrutil"
	"github.com/dep2p/go-comms/internal/core/upgrader"
	"github.com/dep2p/go-comms/pkg/types"
)

// ============================================================================
//                              ConnectionManagerError
// ============================================================================

// ErrorKind 连接管理器错误分类
type ErrorKind int

// 分类名称即 Error() 输出的前缀
const (
	KindPeerManagerError ErrorKind = iota + 1
	KindPeerConnectionError
	KindSendToActorFailed
	KindActorRequestCanceled
	KindDialConnectFailedAllAddresses
	KindConnectFailedMaximumAttemptsReached
	KindYamuxConnectionError
	KindYamuxUpgradeFailure
	KindListenerError
	KindTransportError
	KindDialedPublicKeyMismatch
	KindInvalidStaticPublicKey
	KindNoiseSnowError
	KindNoiseHandshakeError
	KindPeerBanned
	KindIdentityProtocolError
	KindDialCancelled
	KindInvalidAddress
	KindListenerOneshotCancelled
	KindPeerValidationError
	KindNoContactableAddressesForPeer
	KindAllPeerAddressesAreExcluded
	KindYamuxControlError
	KindDuplicateConnection
	KindMaximumConnectionsReached
)

var kindNames = map[ErrorKind]string{
	KindPeerManagerError:                    "PeerManagerError",
	KindPeerConnectionError:                 "PeerConnectionError",
	KindSendToActorFailed:                   "SendToActorFailed",
	KindActorRequestCanceled:                "ActorRequestCanceled",
	KindDialConnectFailedAllAddresses:       "DialConnectFailedAllAddresses",
	KindConnectFailedMaximumAttemptsReached: "ConnectFailedMaximumAttemptsReached",
	KindYamuxConnectionError:                "YamuxConnectionError",
	KindYamuxUpgradeFailure:                 "YamuxUpgradeFailure",
	KindListenerError:                       "ListenerError",
	KindTransportError:                      "TransportError",
	KindDialedPublicKeyMismatch:             "DialedPublicKeyMismatch",
	KindInvalidStaticPublicKey:              "InvalidStaticPublicKey",
	KindNoiseSnowError:                      "NoiseSnowError",
	KindNoiseHandshakeError:                 "NoiseHandshakeError",
	KindPeerBanned:                          "PeerBanned",
	KindIdentityProtocolError:               "IdentityProtocolError",
	KindDialCancelled:                       "DialCancelled",
	KindInvalidAddress:                      "InvalidAddress",
	KindListenerOneshotCancelled:            "ListenerOneshotCancelled",
	KindPeerValidationError:                 "PeerValidationError",
	KindNoContactableAddressesForPeer:       "NoContactableAddressesForPeer",
	KindAllPeerAddressesAreExcluded:         "AllPeerAddressesAreExcluded",
	KindYamuxControlError:                   "YamuxControlError",
	KindDuplicateConnection:                 "DuplicateConnection",
	KindMaximumConnectionsReached:           "MaximumConnectionsReached",
}

// String 返回分类名称
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ConnectionManagerError 连接管理器错误
//
// 创建后不可变，只持有字符串和枚举（Cause 也只会是同样只含字符串的
// *types.PeerManagerError 或 *PeerConnectionError），可以原样交付给合并拨号的所有等待者。
type ConnectionManagerError struct {
	Kind    ErrorKind
	Details string

	// Address 出错的地址（ListenerError、InvalidAddress、TransportError）
	Address string

	// Authenticated / Expected 仅用于 DialedPublicKeyMismatch
	Authenticated string
	Expected      string

	Cause error
}

func (e *ConnectionManagerError) Error() string {
	switch e.Kind {
	case KindDialedPublicKeyMismatch:
		return fmt.Sprintf("%s: authenticated %s, expected %s", e.Kind, e.Authenticated, e.Expected)
	case KindListenerError, KindInvalidAddress, KindTransportError:
		if e.Address != "" {
			return fmt.Sprintf("%s{address: %s, details: %s}", e.Kind, e.Address, e.Details)
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.Details == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Details)
}

// Is 按分类匹配，使 errors.Is(err, ErrDialCancelled) 之类的判断成立
func (e *ConnectionManagerError) Is(target error) bool {
	t, ok := target.(*ConnectionManagerError)
	return ok && t.Kind == e.Kind
}

func (e *ConnectionManagerError) Unwrap() error {
	return e.Cause
}

// Retryable 地址级失败是否允许换下一个地址继续
func (e *ConnectionManagerError) Retryable() bool {
	switch e.Kind {
	case KindPeerBanned,
		KindDialedPublicKeyMismatch,
		KindInvalidStaticPublicKey,
		KindPeerValidationError,
		KindPeerManagerError,
		KindDialCancelled,
		KindSendToActorFailed,
		KindActorRequestCanceled,
		KindDuplicateConnection,
		KindMaximumConnectionsReached:
		return false
	}
	return true
}

func newError(kind ErrorKind, format string, args ...interface{}) *ConnectionManagerError {
	return &ConnectionManagerError{Kind: kind, Details: fmt.Sprintf(format, args...)}
}

// 分类哨兵，只用于 errors.Is 比较
var (
	ErrPeerManager                         = &ConnectionManagerError{Kind: KindPeerManagerError}
	ErrPeerConnection                      = &ConnectionManagerError{Kind: KindPeerConnectionError}
	ErrSendToActorFailed                   = &ConnectionManagerError{Kind: KindSendToActorFailed}
	ErrActorRequestCanceled                = &ConnectionManagerError{Kind: KindActorRequestCanceled}
	ErrDialConnectFailedAllAddresses       = &ConnectionManagerError{Kind: KindDialConnectFailedAllAddresses}
	ErrConnectFailedMaximumAttemptsReached = &ConnectionManagerError{Kind: KindConnectFailedMaximumAttemptsReached}
	ErrYamuxConnection                     = &ConnectionManagerError{Kind: KindYamuxConnectionError}
	ErrYamuxUpgradeFailure                 = &ConnectionManagerError{Kind: KindYamuxUpgradeFailure}
	ErrListener                            = &ConnectionManagerError{Kind: KindListenerError}
	ErrTransport                           = &ConnectionManagerError{Kind: KindTransportError}
	ErrDialedPublicKeyMismatch             = &ConnectionManagerError{Kind: KindDialedPublicKeyMismatch}
	ErrInvalidStaticPublicKey              = &ConnectionManagerError{Kind: KindInvalidStaticPublicKey}
	ErrNoiseSnow                           = &ConnectionManagerError{Kind: KindNoiseSnowError}
	ErrNoiseHandshake                      = &ConnectionManagerError{Kind: KindNoiseHandshakeError}
	ErrPeerBanned                          = &ConnectionManagerError{Kind: KindPeerBanned}
	ErrIdentityProtocol                    = &ConnectionManagerError{Kind: KindIdentityProtocolError}
	ErrDialCancelled                       = &ConnectionManagerError{Kind: KindDialCancelled}
	ErrInvalidAddress                      = &ConnectionManagerError{Kind: KindInvalidAddress}
	ErrListenerOneshotCancelled            = &ConnectionManagerError{Kind: KindListenerOneshotCancelled}
	ErrPeerValidation                      = &ConnectionManagerError{Kind: KindPeerValidationError}
	ErrNoContactableAddressesForPeer       = &ConnectionManagerError{Kind: KindNoContactableAddressesForPeer}
	ErrAllPeerAddressesAreExcluded         = &ConnectionManagerError{Kind: KindAllPeerAddressesAreExcluded}
	ErrYamuxControl                        = &ConnectionManagerError{Kind: KindYamuxControlError}
	ErrDuplicateConnection                 = &ConnectionManagerError{Kind: KindDuplicateConnection}
	ErrMaximumConnectionsReached           = &ConnectionManagerError{Kind: KindMaximumConnectionsReached}
)

// ErrNotConnected 表中没有该节点的连接
var ErrNotConnected = errors.New("connmgr: peer not connected")

// ============================================================================
//                              PeerConnectionError
// ============================================================================

// ConnErrorKind 单连接操作错误分类
type ConnErrorKind int

// PeerConnectionError 分类
const (
	ConnKindYamuxControlError ConnErrorKind = iota + 1
	ConnKindInternalReplyCancelled
	ConnKindInternalRequestSendFailed
	ConnKindProtocolError
	ConnKindProtocolNegotiationTimeout
)

// String 返回分类名称
func (k ConnErrorKind) String() string {
	switch k {
	case ConnKindYamuxControlError:
		return "YamuxControlError"
	case ConnKindInternalReplyCancelled:
		return "InternalReplyCancelled"
	case ConnKindInternalRequestSendFailed:
		return "InternalRequestSendFailed"
	case ConnKindProtocolError:
		return "ProtocolError"
	case ConnKindProtocolNegotiationTimeout:
		return "ProtocolNegotiationTimeout"
	default:
		return fmt.Sprintf("ConnErrorKind(%d)", int(k))
	}
}

// PeerConnectionError PeerConnection 句柄上的操作错误
type PeerConnectionError struct {
	Kind    ConnErrorKind
	Details string
}

func (e *PeerConnectionError) Error() string {
	if e.Details == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Details)
}

// Is 按分类匹配
func (e *PeerConnectionError) Is(target error) bool {
	t, ok := target.(*PeerConnectionError)
	return ok && t.Kind == e.Kind
}

var (
	ErrConnYamuxControl           = &PeerConnectionError{Kind: ConnKindYamuxControlError}
	ErrInternalReplyCancelled     = &PeerConnectionError{Kind: ConnKindInternalReplyCancelled}
	ErrInternalRequestSendFailed  = &PeerConnectionError{Kind: ConnKindInternalRequestSendFailed}
	ErrProtocol                   = &PeerConnectionError{Kind: ConnKindProtocolError}
	ErrProtocolNegotiationTimeout = &PeerConnectionError{Kind: ConnKindProtocolNegotiationTimeout}
)

// ============================================================================
//                              层间映射
// ============================================================================

// fromTransport 映射传输层拨号失败
func fromTransport(addr string, err error) *ConnectionManagerError {
	if errors.Is(err, addrutil.ErrInvalidAddress) {
		return &ConnectionManagerError{Kind: KindInvalidAddress, Address: addr, Details: err.Error()}
	}
	return &ConnectionManagerError{Kind: KindTransportError, Address: addr, Details: err.Error()}
}

// fromHandshake 映射 Noise 握手失败
func fromHandshake(err error) *ConnectionManagerError {
	var mismatch *noise.PublicKeyMismatchError
	if errors.As(err, &mismatch) {
		return &ConnectionManagerError{
			Kind:          KindDialedPublicKeyMismatch,
			Authenticated: mismatch.Authenticated.String(),
			Expected:      mismatch.Expected.String(),
		}
	}
	if errors.Is(err, noise.ErrInvalidStaticKey) {
		return newError(KindInvalidStaticPublicKey, "%v", err)
	}
	var nerr *noise.Error
	if errors.As(err, &nerr) && nerr.Kind == noise.KindHandshake {
		return newError(KindNoiseHandshakeError, "%s", nerr.Cause)
	}
	if nerr != nil {
		return newError(KindNoiseSnowError, "%s", nerr.Cause)
	}
	return newError(KindNoiseSnowError, "%v", err)
}

// fromValidation 映射节点校验失败，Peer Manager 错误原样透传
func fromValidation(err error) *ConnectionManagerError {
	var banned *peervalidator.BannedError
	if errors.As(err, &banned) {
		return newError(KindPeerBanned, "%s", banned.Error())
	}
	var pmErr *types.PeerManagerError
	if errors.As(err, &pmErr) {
		return &ConnectionManagerError{Kind: KindPeerManagerError, Cause: pmErr}
	}
	return newError(KindPeerValidationError, "%v", err)
}

// fromMuxer 映射多路复用失败
func fromMuxer(err error) *ConnectionManagerError {
	var yerr *yamux.Error
	if errors.As(err, &yerr) {
		switch yerr.Kind {
		case yamux.KindUpgrade:
			return newError(KindYamuxUpgradeFailure, "%s", yerr.Cause)
		case yamux.KindConnection:
			return newError(KindYamuxConnectionError, "%s", yerr.Cause)
		}
		return newError(KindYamuxControlError, "%s", yerr.Cause)
	}
	return newError(KindYamuxControlError, "%v", err)
}

// fromNegotiation 映射身份交换失败
func fromNegotiation(err error) *ConnectionManagerError {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case protocol.KindIdentity:
			return newError(KindIdentityProtocolError, "%s", perr.Cause)
		case protocol.KindTimeout:
			return &ConnectionManagerError{
				Kind:  KindPeerConnectionError,
				Cause: &PeerConnectionError{Kind: ConnKindProtocolNegotiationTimeout, Details: perr.Cause},
			}
		}
		return &ConnectionManagerError{
			Kind:  KindPeerConnectionError,
			Cause: &PeerConnectionError{Kind: ConnKindProtocolError, Details: perr.Cause},
		}
	}
	return fromMuxer(err)
}

// fromUpgrade 按失败阶段选择映射
func fromUpgrade(err error) *ConnectionManagerError {
	var phaseErr *upgrader.PhaseError
	if !errors.As(err, &phaseErr) {
		return newError(KindPeerConnectionError, "%v", err)
	}
	switch phaseErr.Phase {
	case upgrader.PhaseHandshake:
		return fromHandshake(phaseErr.Err)
	case upgrader.PhaseValidation:
		return fromValidation(phaseErr.Err)
	case upgrader.PhaseMultiplexing:
		return fromMuxer(phaseErr.Err)
	default:
		return fromNegotiation(phaseErr.Err)
	}
}

// fromSubstream 映射子流打开失败
func fromSubstream(err error) *PeerConnectionError {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		if perr.Kind == protocol.KindTimeout {
			return &PeerConnectionError{Kind: ConnKindProtocolNegotiationTimeout, Details: perr.Cause}
		}
		return &PeerConnectionError{Kind: ConnKindProtocolError, Details: perr.Cause}
	}
	var yerr *yamux.Error
	if errors.As(err, &yerr) {
		return &PeerConnectionError{Kind: ConnKindYamuxControlError, Details: yerr.Cause}
	}
	return &PeerConnectionError{Kind: ConnKindProtocolError, Details: err.Error()}
}

// fromContext 映射调用方上下文结束
func fromContext(ctx context.Context) *PeerConnectionError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &PeerConnectionError{Kind: ConnKindProtocolNegotiationTimeout, Details: ctx.Err().Error()}
	}
	return &PeerConnectionError{Kind: ConnKindProtocolError, Details: ctx.Err().Error()}
}

// dialCancelled 拨号被调用方取消或超过总截止时间
func dialCancelled(ctx context.Context) *ConnectionManagerError {
	return newError(KindDialCancelled, "%v", context.Cause(ctx))
}
