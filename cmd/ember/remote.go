package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/ember/server"
)

func newRemoteCmd() *cobra.Command {
	var (
		addr    string
		session string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "remote [script]",
		Short: "Evaluate a script on a running ember server over gRPC",
		Long: `Evaluate a script on a running ember server over gRPC. The script is
read from the file argument or from stdin. Pass --session to continue
an existing session.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src []byte
			var err error
			if len(args) > 0 {
				src, err = os.ReadFile(args[0])
			} else {
				src, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return err
			}

			conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", addr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			fields := map[string]any{"source": string(src)}
			if session != "" {
				fields["session"] = session
			}
			resp, err := remoteEval(ctx, conn, fields)
			if err != nil {
				return err
			}
			return printRemote(resp)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:4567", "server address")
	cmd.Flags().StringVar(&session, "session", "", "session to evaluate in")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

func remoteEval(ctx context.Context, conn *grpc.ClientConn, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, server.EvalProcedure, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func printRemote(resp *structpb.Struct) error {
	f := resp.GetFields()
	if out := f["output"].GetStringValue(); out != "" {
		fmt.Print(out)
	}
	fmt.Fprintf(os.Stderr, "session %s\n", f["session"].GetStringValue())
	if !f["success"].GetBoolValue() {
		return fmt.Errorf("%s", f["error"].GetStringValue())
	}
	fmt.Println(f["result"].GetStringValue())
	return nil
}
