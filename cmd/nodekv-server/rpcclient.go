/*
Copyright (C) 2026  nodekv contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package main

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"github.com/nodekv/nodekv/internal/resp"
)

// callRPC dials addr, sends one command (spec §6's "internal RPC, same
// wire" — these are ordinary RESP commands, just sent node-to-node
// instead of client-to-node) and returns the decoded reply. Each call
// opens and closes its own connection: the cluster RPCs this backs
// (failover's handshake, occasional CLUSTER GOSSIP pushes) are rare
// enough that a dedicated connection pool would be pure overhead.
func callRPC(ctx context.Context, addr string, args ...string) (resp.Value, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return resp.Value{}, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	elems := make([]resp.Value, len(args))
	for i, a := range args {
		elems[i] = resp.BulkString([]byte(a))
	}
	w := bufio.NewWriter(conn)
	if err := resp.Encode(w, resp.Array(elems...)); err != nil {
		return resp.Value{}, err
	}
	if err := w.Flush(); err != nil {
		return resp.Value{}, err
	}
	r := bufio.NewReader(conn)
	v, err := resp.Decode(r)
	if err != nil {
		return resp.Value{}, err
	}
	if v.Kind == resp.KindError {
		return v, fmt.Errorf("nodekv: rpc %v: %s", args, v.Str)
	}
	return v, nil
}
