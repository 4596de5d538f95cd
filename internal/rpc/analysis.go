package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/eufyscope/internal/analysis"
)

const AnalysisService = "eufyscope.analysis.v1.Analysis"

const (
	ScanMethod    = "/" + AnalysisService + "/Scan"
	CompareMethod = "/" + AnalysisService + "/Compare"
)

// ScanRequest carries either one payload or a multi-key capture in Blobs.
// A zero Range uses the server default.
type ScanRequest struct {
	Key     string            `json:"key,omitempty"`
	Payload string            `json:"payload,omitempty"`
	Blobs   map[string]string `json:"blobs,omitempty"`
	Range   *analysis.Range   `json:"range,omitempty"`
}

type ScanResponse struct {
	Candidates []analysis.Candidate `json:"candidates,omitempty"`
	Scans      []analysis.KeyScan   `json:"scans,omitempty"`
}

// CompareRequest holds two base64 payloads of the same key.
type CompareRequest struct {
	Before     string                    `json:"before"`
	After      string                    `json:"after"`
	Reference  []analysis.ReferenceEntry `json:"reference"`
	Range      *analysis.Range           `json:"range,omitempty"`
	Thresholds *analysis.Thresholds      `json:"thresholds,omitempty"`
}

type CompareResponse struct {
	Results []analysis.MatchResult `json:"results"`
}

type analysisServer interface {
	Scan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Compare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var analysisServiceDesc = grpc.ServiceDesc{
	ServiceName: AnalysisService,
	HandlerType: (*analysisServer)(nil),
	Methods: []grpc.MethodDesc{
		UnaryMethod(AnalysisService, "Scan", func(srv any) StructCall { return srv.(analysisServer).Scan }),
		UnaryMethod(AnalysisService, "Compare", func(srv any) StructCall { return srv.(analysisServer).Compare }),
	},
	Metadata: "eufyscope/analysis/v1/analysis.proto",
}

// AnalysisServer runs scans and comparisons for remote clients.
type AnalysisServer struct {
	Scanner      analysis.Scanner
	PercentRange analysis.Range
	Thresholds   analysis.Thresholds
}

func NewAnalysisServer(scanner analysis.Scanner, percent analysis.Range, thresholds analysis.Thresholds) *AnalysisServer {
	if percent.IsZero() {
		percent = analysis.DefaultPercentRange
	}
	return &AnalysisServer{Scanner: scanner, PercentRange: percent, Thresholds: thresholds}
}

func (s *AnalysisServer) Scan(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ScanRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	r, err := s.scanRange(req.Range)
	if err != nil {
		return nil, err
	}

	var resp ScanResponse
	switch {
	case len(req.Blobs) > 0:
		resp.Scans = s.Scanner.ScanCapture(req.Blobs, r)
	case req.Payload != "":
		key := req.Key
		if key == "" {
			key = "180"
		}
		resp.Candidates, err = s.Scanner.ScanEncoded(key, req.Payload, r)
		if err != nil {
			return nil, statusFor(err)
		}
		if resp.Candidates == nil {
			resp.Candidates = []analysis.Candidate{}
		}
	default:
		return nil, status.Error(codes.InvalidArgument, "payload or blobs is required")
	}
	return ToStruct(resp)
}

func (s *AnalysisServer) Compare(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CompareRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	r, err := s.scanRange(req.Range)
	if err != nil {
		return nil, err
	}
	thresholds := s.Thresholds
	if req.Thresholds != nil {
		if err := req.Thresholds.Validate(); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		thresholds = *req.Thresholds
	}

	before, err := s.Scanner.ScanEncoded("before", req.Before, r)
	if err != nil {
		return nil, statusFor(err)
	}
	afterPayload, err := analysis.DecodePayload("after", req.After)
	if err != nil {
		return nil, statusFor(err)
	}
	after := s.Scanner.Counterparts(afterPayload)
	results := analysis.NewComparator(thresholds).Compare(before, after, req.Reference)
	return ToStruct(CompareResponse{Results: results})
}

func (s *AnalysisServer) scanRange(r *analysis.Range) (analysis.Range, error) {
	if r == nil || r.IsZero() {
		return s.PercentRange, nil
	}
	if err := r.Validate(); err != nil {
		return analysis.Range{}, status.Error(codes.InvalidArgument, err.Error())
	}
	return *r, nil
}

func statusFor(err error) error {
	var decodeErr *analysis.DecodeError
	if errors.As(err, &decodeErr) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
