// Command libcctrace is the cgo adapter a host emulator loads (built with
// -buildmode=c-shared) to attach the tracing core. It is intentionally
// thin: construction and forwarding only, translating the C ABI a real
// host speaks into calls against internal/trace's Context, Host, Insn,
// and TranslatedBlock. All tracing logic lives in internal/trace; this
// package owns no behavior beyond handle bookkeeping and argument
// marshaling.
package main

/*
#include <stdint.h>
#include <stdbool.h>

typedef struct {
    const char *socket_path;
    int batch_size;
    bool trace_pc;
    bool trace_reads;
    bool trace_writes;
    bool trace_instrs;
    bool trace_syscalls;
    bool trace_branches;
    uint64_t code_start;
    uint64_t code_end;
    uint64_t code_entry;
} cctrace_config;

typedef enum {
    CCTRACE_OK = 0,
    CCTRACE_ERR_INVALID_ARGUMENT = 1,
    CCTRACE_ERR_SENDER_SETUP = 2,
    CCTRACE_ERR_INVALID_HANDLE = 3,
} cctrace_error_code;
*/
import "C"

import (
	"errors"
	"log/slog"
	"unsafe"

	"github.com/tinyrange/cctrace/internal/hostsim"
	"github.com/tinyrange/cctrace/internal/trace"
)

var handles = newHandleTable()

// installed bundles the Context together with the hostsim.Host backing
// it. hostsim.Host already implements the translate/exec/mem-access
// bookkeeping this adapter needs against opaque instruction and block
// handles, the same fixture internal/trace's own tests drive, so there
// is no reason to duplicate it here.
type installed struct {
	ctx  *trace.Context
	host *hostsim.Host
}

func getInstalled(h C.uint64_t) (*installed, bool) {
	return getTyped[*installed](handles, uint64(h))
}

//export cctrace_plugin_install
func cctrace_plugin_install(cfg *C.cctrace_config, outCtx *C.uint64_t) C.cctrace_error_code {
	if cfg == nil || outCtx == nil {
		return C.CCTRACE_ERR_INVALID_ARGUMENT
	}

	host := hostsim.NewHost(uint64(cfg.code_start), uint64(cfg.code_end), uint64(cfg.code_entry))
	tc := trace.Config{
		SocketPath:    C.GoString(cfg.socket_path),
		BatchSize:     int(cfg.batch_size),
		TracePC:       bool(cfg.trace_pc),
		TraceReads:    bool(cfg.trace_reads),
		TraceWrites:   bool(cfg.trace_writes),
		TraceInstrs:   bool(cfg.trace_instrs),
		TraceSyscalls: bool(cfg.trace_syscalls),
		TraceBranches: bool(cfg.trace_branches),
	}

	ctx, err := trace.Init(tc, host, slog.Default())
	if err != nil {
		if errors.Is(err, trace.ErrBadConfig) {
			return C.CCTRACE_ERR_INVALID_ARGUMENT
		}
		return C.CCTRACE_ERR_SENDER_SETUP
	}

	*outCtx = C.uint64_t(handles.new(&installed{ctx: ctx, host: host}))
	return C.CCTRACE_OK
}

//export cctrace_insn_new
func cctrace_insn_new(vaddr C.uint64_t, data *C.uint8_t, dataLen C.size_t) C.uint64_t {
	var goData []byte
	if dataLen > 0 {
		goData = C.GoBytes(unsafe.Pointer(data), C.int(dataLen))
	}
	return C.uint64_t(handles.new(hostsim.NewInsn(uint64(vaddr), goData)))
}

//export cctrace_tb_new
func cctrace_tb_new(insnHandles *C.uint64_t, count C.size_t) C.uint64_t {
	n := int(count)
	raw := unsafe.Slice((*C.uint64_t)(insnHandles), n)

	insns := make([]*hostsim.Insn, 0, n)
	for _, h := range raw {
		if insn, ok := getTyped[*hostsim.Insn](handles, uint64(h)); ok {
			insns = append(insns, insn)
		}
	}
	return C.uint64_t(handles.new(hostsim.NewBlock(insns...)))
}

//export cctrace_tb_free
func cctrace_tb_free(tbHandle C.uint64_t) {
	handles.free(uint64(tbHandle))
}

//export cctrace_on_translate
func cctrace_on_translate(ctxHandle, tbHandle C.uint64_t) C.cctrace_error_code {
	inst, ok := getInstalled(ctxHandle)
	if !ok {
		return C.CCTRACE_ERR_INVALID_HANDLE
	}
	tb, ok := getTyped[*hostsim.Block](handles, uint64(tbHandle))
	if !ok {
		return C.CCTRACE_ERR_INVALID_HANDLE
	}
	inst.ctx.OnTranslate(tb)
	return C.CCTRACE_OK
}

//export cctrace_on_insn_exec
func cctrace_on_insn_exec(ctxHandle C.uint64_t, insnHandle C.uint64_t, vcpu C.uint32_t) C.cctrace_error_code {
	if _, ok := getInstalled(ctxHandle); !ok {
		return C.CCTRACE_ERR_INVALID_HANDLE
	}
	insn, ok := getTyped[*hostsim.Insn](handles, uint64(insnHandle))
	if !ok {
		return C.CCTRACE_ERR_INVALID_HANDLE
	}
	insn.Exec(uint32(vcpu))
	return C.CCTRACE_OK
}

//export cctrace_on_mem_access
func cctrace_on_mem_access(ctxHandle, insnHandle C.uint64_t, vcpu C.uint32_t, addr C.uint64_t, isStore C.bool) C.cctrace_error_code {
	if _, ok := getInstalled(ctxHandle); !ok {
		return C.CCTRACE_ERR_INVALID_HANDLE
	}
	insn, ok := getTyped[*hostsim.Insn](handles, uint64(insnHandle))
	if !ok {
		return C.CCTRACE_ERR_INVALID_HANDLE
	}
	insn.Access(uint32(vcpu), uint64(addr), bool(isStore))
	return C.CCTRACE_OK
}

//export cctrace_on_syscall_enter
func cctrace_on_syscall_enter(ctxHandle C.uint64_t, vcpu C.uint32_t, num C.int64_t, args *C.uint64_t) C.cctrace_error_code {
	inst, ok := getInstalled(ctxHandle)
	if !ok {
		return C.CCTRACE_ERR_INVALID_HANDLE
	}
	var a [8]uint64
	if args != nil {
		raw := (*[8]uint64)(unsafe.Pointer(args))
		a = *raw
	}
	inst.ctx.OnSyscallEnter(uint32(vcpu), int64(num), a)
	return C.CCTRACE_OK
}

//export cctrace_on_syscall_return
func cctrace_on_syscall_return(ctxHandle C.uint64_t, vcpu C.uint32_t, num, rv C.int64_t) C.cctrace_error_code {
	inst, ok := getInstalled(ctxHandle)
	if !ok {
		return C.CCTRACE_ERR_INVALID_HANDLE
	}
	inst.ctx.OnSyscallReturn(uint32(vcpu), int64(num), int64(rv))
	return C.CCTRACE_OK
}

//export cctrace_on_exit
func cctrace_on_exit(ctxHandle C.uint64_t) C.cctrace_error_code {
	inst, ok := getInstalled(ctxHandle)
	if !ok {
		return C.CCTRACE_ERR_INVALID_HANDLE
	}
	inst.ctx.OnExit()
	handles.free(uint64(ctxHandle))
	return C.CCTRACE_OK
}

func main() {}
