package ledger

import "go.opentelemetry.io/otel/attribute"

func stageAttrSet(s Stage) attribute.Set {
	return attribute.NewSet(attribute.String("stage", string(s)))
}

func modeAttrSet(m Mode) attribute.Set {
	return attribute.NewSet(attribute.String("mode", string(m)))
}
