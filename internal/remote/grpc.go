package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region contract

// The persistence service takes a google.protobuf.Struct
// {table: string, record: Struct} and answers google.protobuf.Empty, so the
// contract needs no generated stubs on either side.
const (
	persistenceService = "studytrack.v1.Persistence"
	insertMethod       = "/" + persistenceService + "/Insert"
)

// #endregion contract

// #region client-struct
// GRPCClient inserts records through the persistence gRPC service.
type GRPCClient struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewGRPCClient connects to the persistence service at addr.
func NewGRPCClient(addr string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, cc: conn}, nil
}

// NewGRPCClientWithConn wraps an existing connection. Close is then the
// caller's job.
func NewGRPCClientWithConn(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc}
}

// #endregion constructor

// Close shuts down the connection opened by NewGRPCClient.
func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #region insert
// Insert sends one record. Records must be JSON objects.
func (c *GRPCClient) Insert(ctx context.Context, table Table, record json.RawMessage) error {
	req, err := insertRequest(table, record)
	if err != nil {
		return err
	}
	if err := c.cc.Invoke(ctx, insertMethod, req, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("insert rpc %s: %w", table, err)
	}
	return nil
}

func insertRequest(table Table, record json.RawMessage) (*structpb.Struct, error) {
	var fields map[string]any
	if err := json.Unmarshal(record, &fields); err != nil {
		return nil, fmt.Errorf("record for %s is not a JSON object: %w", table, err)
	}
	rec, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode record for %s: %w", table, err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"table":  structpb.NewStringValue(string(table)),
		"record": structpb.NewStructValue(rec),
	}}, nil
}

// #endregion insert
