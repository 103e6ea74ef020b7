package workflow

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("tollops-ledger")
