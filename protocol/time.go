package protocol

import (
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Logical workflow time is carried on the wire as protobuf Timestamp and
// Duration values and handled in-process as integer milliseconds. The
// conversions below are exact for integer millisecond inputs.

// MsToDuration converts milliseconds to a protobuf Duration.
func MsToDuration(ms int64) *durationpb.Duration {
	return &durationpb.Duration{
		Seconds: ms / 1000,
		Nanos:   int32(ms%1000) * 1e6,
	}
}

// DurationToMs converts a protobuf Duration to milliseconds, truncating
// sub-millisecond precision.
func DurationToMs(d *durationpb.Duration) int64 {
	if d == nil {
		return 0
	}
	return d.GetSeconds()*1000 + int64(d.GetNanos())/1e6
}

// MsToTimestamp converts epoch milliseconds to a protobuf Timestamp.
func MsToTimestamp(ms int64) *timestamppb.Timestamp {
	return &timestamppb.Timestamp{
		Seconds: ms / 1000,
		Nanos:   int32(ms%1000) * 1e6,
	}
}

// TimestampToMs converts a protobuf Timestamp to epoch milliseconds,
// truncating sub-millisecond precision.
func TimestampToMs(ts *timestamppb.Timestamp) int64 {
	if ts == nil {
		return 0
	}
	return ts.GetSeconds()*1000 + int64(ts.GetNanos())/1e6
}
