package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"google.golang.org/grpc"

	pb "github.com/mtiwari1/stylesync/proto"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(buf.String(), "stylesync dev") {
		t.Errorf("expected output to contain 'stylesync dev', got: %s", buf.String())
	}
}

func TestRootCmdHasSubcommands(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"serve", "drain", "pending", "version"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestDrainCmd_EmptyQueue(t *testing.T) {
	t.Setenv("STYLESYNC_DB_DSN", "")
	t.Setenv("STYLESYNC_REMOTE_URL", "")

	cfgPath := t.TempDir() + "/stylesync.yaml"
	writeFile(t, cfgPath, "store:\n  driver: memory\n")

	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"drain", "-c", cfgPath})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != "no_data" {
		t.Errorf("output = %q, want no_data", out.String())
	}
}

type stubClient struct {
	list     *pb.ListRequestsResponse
	restored string
}

func (s *stubClient) ListRequests(context.Context, *pb.ListRequestsRequest, ...grpc.CallOption) (*pb.ListRequestsResponse, error) {
	return s.list, nil
}

func (s *stubClient) RestoreRequest(_ context.Context, in *pb.RestoreRequestRequest, _ ...grpc.CallOption) (*pb.RestoreRequestResponse, error) {
	s.restored = in.Id
	return &pb.RestoreRequestResponse{Id: in.Id, Result: json.RawMessage(`{"looks":2}`)}, nil
}

func (s *stubClient) RestoreAll(context.Context, *pb.RestoreAllRequest, ...grpc.CallOption) (*pb.RestoreAllResponse, error) {
	return &pb.RestoreAllResponse{
		Restored: []string{"a"},
		Failed:   []*pb.RestoreFailure{{Id: "b", Error: "status 503"}},
	}, nil
}

func (s *stubClient) DiscardRequest(_ context.Context, in *pb.DiscardRequestRequest, _ ...grpc.CallOption) (*pb.DiscardRequestResponse, error) {
	return &pb.DiscardRequestResponse{Id: in.Id}, nil
}

func (s *stubClient) SetAutoRestore(_ context.Context, in *pb.SetAutoRestoreRequest, _ ...grpc.CallOption) (*pb.SetAutoRestoreResponse, error) {
	return &pb.SetAutoRestoreResponse{Enabled: in.Enabled}, nil
}

func (s *stubClient) EnqueueUpload(_ context.Context, in *pb.EnqueueUploadRequest, _ ...grpc.CallOption) (*pb.EnqueueUploadResponse, error) {
	return &pb.EnqueueUploadResponse{MessageId: in.MessageId, Status: "queued"}, nil
}

func (s *stubClient) Transition(_ context.Context, in *pb.TransitionRequest, _ ...grpc.CallOption) (*pb.TransitionResponse, error) {
	return &pb.TransitionResponse{State: in.State}, nil
}

func (s *stubClient) Drain(context.Context, *pb.DrainRequest, ...grpc.CallOption) (*pb.DrainResponse, error) {
	return &pb.DrainResponse{Result: "no_data"}, nil
}

func TestRunPending_List(t *testing.T) {
	client := &stubClient{list: &pb.ListRequestsResponse{
		Requests: []*pb.PersistedRequest{
			{Id: "req-1", Type: "lookbook", Timestamp: time.Now().Add(-time.Hour).UnixMilli(), RetryCount: 1, MaxRetries: 3},
		},
	}}
	out := new(bytes.Buffer)

	if err := runPending(context.Background(), client, out, "", false, ""); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"ID", "req-1", "lookbook", "1/3", "1 interrupted (restore: manual)"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunPending_Empty(t *testing.T) {
	client := &stubClient{list: &pb.ListRequestsResponse{
		AutoRestore: true,
		Tasks:       []*pb.LongTask{{Id: "t1", Polling: true}, {Id: "t2"}},
	}}
	out := new(bytes.Buffer)

	if err := runPending(context.Background(), client, out, "", false, ""); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"no interrupted requests (restore: auto)", "2 long tasks awaiting results (1 polling)"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q: %q", want, out.String())
		}
	}
}

func TestRunPending_Actions(t *testing.T) {
	client := &stubClient{}

	out := new(bytes.Buffer)
	if err := runPending(context.Background(), client, out, "req-9", false, ""); err != nil {
		t.Fatal(err)
	}
	if client.restored != "req-9" || !strings.Contains(out.String(), `restored req-9: {"looks":2}`) {
		t.Errorf("restore output = %q", out.String())
	}

	out.Reset()
	if err := runPending(context.Background(), client, out, "", true, ""); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "restored 1, failed 1, skipped 0") || !strings.Contains(out.String(), "b: status 503") {
		t.Errorf("restore-all output = %q", out.String())
	}

	out.Reset()
	if err := runPending(context.Background(), client, out, "", false, "req-3"); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "discarded req-3" {
		t.Errorf("discard output = %q", out.String())
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
