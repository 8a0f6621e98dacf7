// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"

	"github.com/p0prxx/wasmjit/compile"
	"github.com/p0prxx/wasmjit/disasm"
	"github.com/p0prxx/wasmjit/ir"
	"github.com/p0prxx/wasmjit/link"
	"github.com/p0prxx/wasmjit/validate"
	"github.com/p0prxx/wasmjit/wasm"
)

func main() {
	log.SetPrefix("wasm-run: ")
	log.SetFlags(0)

	verbose := flag.Bool("v", false, "enable/disable verbose mode")
	verify := flag.Bool("verify-module", false, "run module verification")

	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	compile.SetDebugMode(*verbose)

	run(os.Stdout, flag.Arg(0), *verify)
}

func run(w io.Writer, fname string, verify bool) {
	f, err := os.Open(fname)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	m, err := wasm.ReadModule(f, importer)
	if err != nil {
		log.Fatalf("could not read module: %v", err)
	}

	if m.Export == nil {
		log.Fatalf("module has no export section")
	}

	funcs, linker, err := compileModule(m, verify)
	if err != nil {
		log.Fatalf("could not compile module: %v", err)
	}
	defer linker.Alloc.Close()

	for name, e := range m.Export.Entries {
		if e.Kind != wasm.ExternalFunction {
			continue
		}
		i := int(e.Index)
		sig := *m.FunctionIndexSpace[i].Sig

		switch len(sig.ReturnTypes) {
		case 1:
			fmt.Fprintf(w, "%s() %s => ", name, sig.ReturnTypes[0])
		case 0:
			fmt.Fprintf(w, "%s() => ", name)
		default:
			log.Printf("running exported functions with more than one return value is not supported")
			continue
		}
		if len(sig.ParamTypes) > 0 {
			log.Printf("running exported functions with input parameters is not supported")
			continue
		}

		res, err := link.Invoke(funcs[i], sig, nil)
		if err != nil {
			fmt.Fprintf(w, "\n")
			log.Printf("err=%v", err)
			continue
		}
		if len(sig.ReturnTypes) == 0 {
			fmt.Fprintf(w, "\n")
			continue
		}
		fmt.Fprintf(w, "%s\n", formatResult(sig.ReturnTypes[0], res))
	}
}

func formatResult(t wasm.ValueType, bits uint64) string {
	switch t {
	case wasm.ValueTypeF64:
		return fmt.Sprintf("%v (float64)", math.Float64frombits(bits))
	case wasm.ValueTypeI64:
		return fmt.Sprintf("%v (int64)", int64(bits))
	default:
		return fmt.Sprintf("%v (int32)", int32(bits))
	}
}

// compileModule validates (optionally), compiles with the amd64 backend,
// and links every function in m's function index space, in index order.
func compileModule(m *wasm.Module, verify bool) ([]*link.FunctionInstance, *link.Linker, error) {
	info := moduleInfo(m)

	results := make([]*compile.Result, len(m.FunctionIndexSpace))
	for i, fn := range m.FunctionIndexSpace {
		code, err := disasm.Disassemble(fn, m)
		if err != nil {
			return nil, nil, fmt.Errorf("function %d: %v", i, err)
		}

		if verify {
			vmod := &validate.Module{
				Types:     info.Types,
				FuncSigs:  info.FuncSigs,
				Globals:   info.Globals,
				HasMemory: m.Memory != nil,
				HasTable:  m.Table != nil,
			}
			if err := validate.Function(vmod, ir.Func{Type: *fn.Sig, Code: *code}); err != nil {
				return nil, nil, fmt.Errorf("function %d: %v", i, err)
			}
		}

		res, err := compile.CompileFunction(info, *fn.Sig, *code, compile.DefaultOptions())
		if err != nil {
			return nil, nil, fmt.Errorf("function %d: %v", i, err)
		}
		results[i] = res
	}

	alloc := &link.MMapAllocator{}
	linker, err := link.NewLinker(alloc)
	if err != nil {
		return nil, nil, err
	}
	linker.TypeTokens = typeTokens(m)
	linker.FuncTypeTokens = funcTypeTokens(m)
	linker.Mems = memoryInstances(m)
	linker.Globals = globalInstances(m)
	linker.Tables = tableInstances(m)

	funcs, err := linker.LinkFunctions(results)
	if err != nil {
		return nil, nil, err
	}
	// Table slots reference FunctionInstances by pointer; fill them in
	// now that every function has a stable address.
	wireTables(m, linker.Tables, funcs)

	return funcs, linker, nil
}

func moduleInfo(m *wasm.Module) *compile.ModuleInfo {
	info := &compile.ModuleInfo{}
	if m.Types != nil {
		info.Types = m.Types.Entries
	}
	info.FuncSigs = make([]wasm.FunctionSig, len(m.FunctionIndexSpace))
	for i, fn := range m.FunctionIndexSpace {
		info.FuncSigs[i] = *fn.Sig
	}
	for _, g := range m.GlobalIndexSpace {
		info.Globals = append(info.Globals, *g.Type)
	}
	return info
}

// typeTokens assigns each type-section entry a distinct non-zero token;
// the actual values carry no meaning beyond "equal iff same type index".
func typeTokens(m *wasm.Module) []uint64 {
	if m.Types == nil {
		return nil
	}
	toks := make([]uint64, len(m.Types.Entries))
	for i := range toks {
		toks[i] = uint64(i) + 1
	}
	return toks
}

func funcTypeTokens(m *wasm.Module) []uint32 {
	if m.Function == nil {
		return nil
	}
	return m.Function.Types
}

func memoryInstances(m *wasm.Module) []*link.MemoryInstance {
	if m.Memory == nil {
		return nil
	}
	mems := make([]*link.MemoryInstance, len(m.Memory.Entries))
	for i, mem := range m.Memory.Entries {
		max := uint32(0)
		if mem.Limits.Flags&0x1 != 0 {
			max = mem.Limits.Maximum
		}
		mems[i] = link.NewMemoryInstance(mem.Limits.Initial, max)
	}
	return mems
}

// globalInstances allocates one GlobalInstance per module global, left at
// its zero value: evaluating a declared initializer expression is
// wasm.Module's own unexported machinery (execInitExpr), not exposed
// for a caller driving compiled code directly.
func globalInstances(m *wasm.Module) []*link.GlobalInstance {
	globals := make([]*link.GlobalInstance, len(m.GlobalIndexSpace))
	for i, g := range m.GlobalIndexSpace {
		globals[i] = &link.GlobalInstance{Type: byte(g.Type.Type)}
	}
	return globals
}

func tableInstances(m *wasm.Module) []*link.TableInstance {
	if m.Table == nil {
		return nil
	}
	tabs := make([]*link.TableInstance, len(m.Table.Entries))
	for i, entries := range m.TableIndexSpace {
		tabs[i] = &link.TableInstance{Funcs: make([]*link.FunctionInstance, len(entries))}
	}
	return tabs
}

func wireTables(m *wasm.Module, tabs []*link.TableInstance, funcs []*link.FunctionInstance) {
	for ti, entries := range m.TableIndexSpace {
		if ti >= len(tabs) {
			continue
		}
		for i, fidx := range entries {
			if int(fidx) < len(funcs) {
				tabs[ti].Funcs[i] = funcs[fidx]
			}
		}
	}
}

func importer(name string) (*wasm.Module, error) {
	f, err := os.Open(name + ".wasm")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := wasm.ReadModule(f, nil)
	if err != nil {
		return nil, err
	}
	return m, nil
}
