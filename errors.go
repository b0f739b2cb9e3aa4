package comms

import (
	"errors"

	"github.com/dep2p/go-comms/internal/core/connmgr"
)

// 节点生命周期错误
var (
	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ErrInvalidPeerAddr 地址不是 "nodeid@multiaddr" 形式
	ErrInvalidPeerAddr = errors.New("invalid peer address")
)

// 连接管理错误分类，用 errors.Is 比较
var (
	ErrNotConnected                        = connmgr.ErrNotConnected
	ErrPeerManager                         = connmgr.ErrPeerManager
	ErrPeerConnection                      = connmgr.ErrPeerConnection
	ErrSendToActorFailed                   = connmgr.ErrSendToActorFailed
	ErrActorRequestCanceled                = connmgr.ErrActorRequestCanceled
	ErrDialConnectFailedAllAddresses       = connmgr.ErrDialConnectFailedAllAddresses
	ErrConnectFailedMaximumAttemptsReached = connmgr.ErrConnectFailedMaximumAttemptsReached
	ErrYamuxConnection                     = connmgr.ErrYamuxConnection
	ErrYamuxUpgradeFailure                 = connmgr.ErrYamuxUpgradeFailure
	ErrListener                            = connmgr.ErrListener
	ErrTransport                           = connmgr.ErrTransport
	ErrDialedPublicKeyMismatch             = connmgr.ErrDialedPublicKeyMismatch
	ErrInvalidStaticPublicKey              = connmgr.ErrInvalidStaticPublicKey
	ErrNoiseSnow                           = connmgr.ErrNoiseSnow
	ErrNoiseHandshake                      = connmgr.ErrNoiseHandshake
	ErrPeerBanned                          = connmgr.ErrPeerBanned
	ErrIdentityProtocol                    = connmgr.ErrIdentityProtocol
	ErrDialCancelled                       = connmgr.ErrDialCancelled
	ErrInvalidAddress                      = connmgr.ErrInvalidAddress
	ErrListenerOneshotCancelled            = connmgr.ErrListenerOneshotCancelled
	ErrPeerValidation                      = connmgr.ErrPeerValidation
	ErrNoContactableAddressesForPeer       = connmgr.ErrNoContactableAddressesForPeer
	ErrAllPeerAddressesAreExcluded         = connmgr.ErrAllPeerAddressesAreExcluded
	ErrYamuxControl                        = connmgr.ErrYamuxControl
	ErrDuplicateConnection                 = connmgr.ErrDuplicateConnection
	ErrMaximumConnectionsReached           = connmgr.ErrMaximumConnectionsReached
)

// 连接句柄错误分类
var (
	ErrConnYamuxControl           = connmgr.ErrConnYamuxControl
	ErrInternalReplyCancelled     = connmgr.ErrInternalReplyCancelled
	ErrInternalRequestSendFailed  = connmgr.ErrInternalRequestSendFailed
	ErrProtocol                   = connmgr.ErrProtocol
	ErrProtocolNegotiationTimeout = connmgr.ErrProtocolNegotiationTimeout
)
