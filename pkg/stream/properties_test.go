package stream

import (
	"strings"
	"testing"
)

func TestBuildDescribeStringContainsTransportParams(t *testing.T) {
	props := NewStreamProperties(0xAABBCCDD)
	props.FrequencyKHz = 11836000
	props.SymbolRateSymPS = 27500000
	props.Delivery = DeliveryDVBS2
	props.Polarization = PolarizationVertical

	out := props.BuildDescribeString()
	if out == "" {
		t.Fatal("BuildDescribeString returned empty string")
	}
	if !strings.Contains(out, "fmtp") {
		t.Errorf("describe string missing fmtp attribute: %q", out)
	}
	if !strings.Contains(out, "freq=11836") {
		t.Errorf("describe string missing freq param: %q", out)
	}
	if props.DescribeString() != out {
		t.Error("BuildDescribeString did not persist into DescribeString()")
	}
}
