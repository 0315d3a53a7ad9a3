package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lanegate/server/internal/lanegate/relay"
	"github.com/lanegate/server/internal/lanegate/types"
)

var errBadChannels = errors.New(`channels must be a list of relay numbers or "all"`)

// maxOpenBody caps a manual open body in either encoding.
const maxOpenBody = 4096

// protoMediaTypes select the google.protobuf.Struct encoding for both the
// request and the response.
var protoMediaTypes = map[string]bool{
	"application/x-protobuf":   true,
	"application/protobuf":     true,
	"application/octet-stream": true,
}

func wantsProto(r *http.Request) bool {
	return protoMediaTypes[r.Header.Get("Content-Type")]
}

// openRequest is the decoded manual open.  Nil Channels means all.
type openRequest struct {
	Channels []int `validate:"omitempty,max=64,dive,gte=1"`
}

type openResponse struct {
	OK        bool  `json:"ok"`
	Activated []int `json:"activated"`
}

func (s *Server) handleBarrierOpen(w http.ResponseWriter, r *http.Request) {
	pb := wantsProto(r)

	var (
		req openRequest
		err error
	)
	if pb {
		req, err = decodeOpenProto(r)
	} else {
		req, err = decodeOpenJSON(r)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_channels", err.Error())
		return
	}

	user := userFrom(r.Context())

	// The hold must run to completion even if the client hangs up.
	ctx := context.WithoutCancel(r.Context())
	activated, err := s.barrier.Cycle(ctx, relay.CycleRequest{
		Channels: req.Channels,
		User:     user,
		Source:   types.SourceManual,
	})
	if err != nil {
		if errors.Is(err, relay.ErrInvalidChannel) {
			writeError(w, http.StatusBadRequest, "invalid_channels", err.Error())
			return
		}
		s.logger.Error("manual open failed", zap.String("user", user), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "actuator_fault", "relay actuator unavailable")
		return
	}

	if pb {
		writeStruct(w, http.StatusOK, openResponseProto(activated))
		return
	}
	writeJSON(w, http.StatusOK, openResponse{OK: true, Activated: activated})
}

// decodeOpenJSON accepts {"channels":[1,2]}, {"channels":"all"}, {} or an
// empty body.
func decodeOpenJSON(r *http.Request) (openRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOpenBody))
	if err != nil {
		return openRequest{}, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return openRequest{}, nil
	}

	var raw struct {
		Channels json.RawMessage `json:"channels"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return openRequest{}, errors.New("invalid JSON body")
	}

	ch := bytes.TrimSpace(raw.Channels)
	if len(ch) == 0 || bytes.Equal(ch, []byte("null")) {
		return openRequest{}, nil
	}
	var all string
	if err := json.Unmarshal(ch, &all); err == nil {
		if all != "all" {
			return openRequest{}, errBadChannels
		}
		return openRequest{}, nil
	}
	var list []int
	if err := json.Unmarshal(ch, &list); err != nil {
		return openRequest{}, errBadChannels
	}
	if len(list) == 0 {
		return openRequest{}, errBadChannels
	}
	return openRequest{Channels: list}, nil
}

// decodeOpenProto reads a google.protobuf.Struct with the same shape as
// the JSON body.
func decodeOpenProto(r *http.Request) (openRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOpenBody))
	if err != nil {
		return openRequest{}, fmt.Errorf("read body: %w", err)
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(body, &msg); err != nil {
		return openRequest{}, errors.New("invalid protobuf body")
	}
	for k := range msg.GetFields() {
		if k != "channels" {
			return openRequest{}, fmt.Errorf("unknown field %q", k)
		}
	}

	v, ok := msg.GetFields()["channels"]
	if !ok {
		return openRequest{}, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return openRequest{}, nil
	case *structpb.Value_StringValue:
		if kind.StringValue != "all" {
			return openRequest{}, errBadChannels
		}
		return openRequest{}, nil
	case *structpb.Value_ListValue:
		values := kind.ListValue.GetValues()
		if len(values) == 0 {
			return openRequest{}, errBadChannels
		}
		out := make([]int, 0, len(values))
		for _, item := range values {
			n, ok := item.GetKind().(*structpb.Value_NumberValue)
			if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
				return openRequest{}, errBadChannels
			}
			out = append(out, int(n.NumberValue))
		}
		return openRequest{Channels: out}, nil
	default:
		return openRequest{}, errBadChannels
	}
}

func openResponseProto(activated []int) *structpb.Struct {
	list := make([]*structpb.Value, 0, len(activated))
	for _, ch := range activated {
		list = append(list, structpb.NewNumberValue(float64(ch)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"ok":        structpb.NewBoolValue(true),
		"activated": structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}
}

func writeStruct(w http.ResponseWriter, status int, msg *structpb.Struct) {
	data, err := proto.Marshal(msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "encode response")
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
