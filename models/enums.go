package models

import (
	"errors"
	"strings"
)

type StockDirection string

const (
	StockDirectionIn  StockDirection = "IN"
	StockDirectionOut StockDirection = "OUT"
)

func (d StockDirection) IsValid() bool {
	switch d {
	case StockDirectionIn, StockDirectionOut:
		return true
	}
	return false
}

// ParseStockDirection accepts IN/OUT in any case, plus the form labels "Stock In"/"Stock Out".
func ParseStockDirection(s string) (StockDirection, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "")) {
	case "IN", "STOCKIN":
		return StockDirectionIn, nil
	case "OUT", "STOCKOUT":
		return StockDirectionOut, nil
	}
	return "", errors.New("invalid stock direction")
}

type TransferStatus string

const (
	TransferStatusPending  TransferStatus = "PENDING"
	TransferStatusAccepted TransferStatus = "ACCEPTED"
	TransferStatusRejected TransferStatus = "REJECTED"
)

func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusAccepted || s == TransferStatusRejected
}

func (s TransferStatus) IsValid() bool {
	switch s {
	case TransferStatusPending, TransferStatusAccepted, TransferStatusRejected:
		return true
	}
	return false
}

// TransferDecision is what a destination site may answer to a pending request.
type TransferDecision string

const (
	TransferDecisionAccept TransferDecision = "ACCEPT"
	TransferDecisionReject TransferDecision = "REJECT"
)

func ParseTransferDecision(s string) (TransferDecision, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACCEPT", "ACCEPTED":
		return TransferDecisionAccept, nil
	case "REJECT", "REJECTED":
		return TransferDecisionReject, nil
	}
	return "", errors.New("invalid transfer decision")
}

// MetricKind decides which invariant applies to a metric on close.
type MetricKind string

const (
	// MetricKindCounter is a cumulative meter (kWh, kVAh); never decreases.
	MetricKindCounter MetricKind = "Counter"
	// MetricKindDuration is cumulative running time stored in minutes; never decreases.
	MetricKindDuration MetricKind = "Duration"
	// MetricKindConsumable is a level (fuel in tank) that drops with use and rises with inflow.
	MetricKindConsumable MetricKind = "Consumable"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleOperator
}

type AuditAction string

const (
	AuditActionCycleInit      AuditAction = "CYCLE_INIT"
	AuditActionCycleClose     AuditAction = "CYCLE_CLOSE"
	AuditActionStockUpsert    AuditAction = "STOCK_ITEM_UPSERT"
	AuditActionStockIn        AuditAction = "STOCK_IN"
	AuditActionStockOut       AuditAction = "STOCK_OUT"
	AuditActionTransferCreate AuditAction = "TRANSFER_CREATE"
	AuditActionTransferAccept AuditAction = "TRANSFER_ACCEPT"
	AuditActionTransferReject AuditAction = "TRANSFER_REJECT"
)
