package httpsshim

import "context"

type versionContextKey struct{}

type traceContextKey struct{}

// WithProtocolVersion returns a copy of ctx that makes Transport pin v for
// requests carrying it, overriding Transport.ProtocolVersion.
func WithProtocolVersion(ctx context.Context, v ProtocolVersion) context.Context {
	return context.WithValue(ctx, versionContextKey{}, v)
}

func protocolVersionFromContext(ctx context.Context) ProtocolVersion {
	if v, ok := ctx.Value(versionContextKey{}).(ProtocolVersion); ok {
		return v
	}
	return VersionUnspecified
}

// withTraceInfo makes Transport copy the connect trace of the request into
// ti once connected.
func withTraceInfo(ctx context.Context, ti *TraceInfo) context.Context {
	return context.WithValue(ctx, traceContextKey{}, ti)
}

func traceInfoFromContext(ctx context.Context) *TraceInfo {
	ti, _ := ctx.Value(traceContextKey{}).(*TraceInfo)
	return ti
}
