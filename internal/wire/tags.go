// Package wire implements the exchange's framed wire protocol: a
// pipe-delimited tag=value frame per line, modeled on FIX tag-value
// encoding (grounded on the venue's original fefix-based decoder), and
// the execution-report encoding sent back to clients.
package wire

// Tag numbers recognized by the codec. Most mirror standard FIX; the
// trigger-price tag for Stop/StopLimit orders is not specified by the
// source table and is assigned the standard FIX StopPx tag (99).
const (
	TagAccount      = 1
	TagClOrdID      = 11
	TagOrderID      = 37
	TagPrice        = 44
	TagSide         = 54
	TagSymbol       = 55
	TagSendingTime  = 52
	TagQuantity     = 38
	TagOrdType      = 40
	TagTimeInForce  = 59
	TagSenderCompID = 49
	TagSenderSubID  = 50
	TagMsgType      = 35
	TagStopPx       = 99
	TagExecType     = 150
	TagOrdStatus    = 39
	TagLastQty      = 32
	TagLastPx       = 31
	TagLeavesQty    = 151
	TagText         = 58

	// TagProtocolVersion is a venue-specific extension (not part of the
	// standard FIX dictionary) carrying the client's semver protocol
	// version on its first frame, for the ingress handshake.
	TagProtocolVersion = 9001

	// TagDepth is a venue-specific extension carrying the requested book
	// depth on an inbound Snapshot request; the source table has no tag
	// for it since Snapshot isn't in its wire table at all.
	TagDepth = 9002
)

// MsgType values. D/F/G/UCI are the inbound commands §6 specifies; W
// doubles as both the inbound Snapshot request and its outbound
// response (distinguished by which fields are present, same as FIX
// request/response pairs that share a letter); UAT is a venue-specific
// custom type (following the UCI convention of a "U" prefix for
// messages the source table doesn't define a letter for) carrying the
// simulator's AdvanceTime command; 8 is the outbound ExecutionReport.
const (
	MsgTypeNewOrder         = "D"
	MsgTypeCancelOrder      = "F"
	MsgTypeAmendOrder       = "G"
	MsgTypeCreateInstrument = "UCI"
	MsgTypeExecutionReport  = "8"
	MsgTypeSnapshot         = "W"
	MsgTypeInstrumentAck    = "UCI"
	MsgTypeReject           = "3"
	MsgTypeAdvanceTime      = "UAT"
)

// ExecType values carried on tag 150 of an ExecutionReport.
const (
	ExecTypeAccepted  = "0"
	ExecTypeRejected  = "8"
	ExecTypeFilled    = "F"
	ExecTypeCancelled = "4"
	ExecTypeAmended   = "5"
)
