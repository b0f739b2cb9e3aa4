// Package metrics 提供连接管理器的 Prometheus 指标
//
// 所有指标使用 comms 命名空间：
//
//	comms_connections_active{direction}
//	comms_connections_total{direction}
//	comms_disconnects_total{reason}
//	comms_dials_total{result}
//	comms_dial_errors_total{kind}
//	comms_dial_duration_seconds
//	comms_upgrade_phase_duration_seconds{phase}
//	comms_listener_errors_total
//	comms_inbound_rejected_total{reason}
//	comms_substreams_opened_total{direction}
//
// 方法对 nil 接收者是空操作，未启用指标时可以直接传 nil。
package metrics
