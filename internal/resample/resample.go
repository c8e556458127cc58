// Package resample implements C5, the full downsampler: it drives two FIR
// chains in parallel, a low-rate "processing" stream consumed by the
// frequency-search stage and a medium-rate "recording" stream consumed by
// the recording buffer, reusing one chain's output as the other's input
// whenever the down factors are multiples of each other.
package resample

import (
	"sync"
	"time"

	"github.com/fmewatch/fmewatch/internal/firfilter"
	"github.com/fmewatch/fmewatch/internal/sample"
)

// strategy records which of C5's three decision-matrix cases applies.
type strategy int

const (
	strategyIndependent strategy = iota
	strategyRecChainsToProc          // down_proc % down_rec == 0: rec is stage A, proc chains from it
	strategyProcChainsToRec          // down_rec % down_proc == 0: proc is stage A, rec chains from it
)

// Downsampler owns the proc-path and rec-path FIR filters and the
// optional chaining between them.
type Downsampler struct {
	mu sync.RWMutex

	strat strategy

	// independent / stage-A-and-B filters, populated according to strat.
	procFilter *firfilter.Filter
	recFilter  *firfilter.Filter
	// chainFilter processes stage A's output down to the other stream;
	// only used for the two chaining strategies.
	chainFilter *firfilter.Filter

	downProc int
	downRec  int
}

// Params bundles the two FIR specs the caller has already designed (via
// internal/filterdesign) for the processing and recording paths.
type Params struct {
	ProcKernel []float64
	ProcUp     int
	ProcDown   int

	RecKernel []float64
	RecUp     int
	RecDown   int

	SymTol float64
}

// New wires the two FIR chains per the decision matrix: if one down
// factor divides the other, the stream with the smaller down factor is
// filtered first and its output is reused as the other stream's input,
// with the quotient as that second filter's down factor; otherwise the two
// chains run independently off the raw input.
func New(p Params) (*Downsampler, error) {
	d := &Downsampler{downProc: p.ProcDown, downRec: p.RecDown}

	switch {
	case p.ProcDown > 1 && p.RecDown > 1 && p.ProcDown%p.RecDown == 0:
		d.strat = strategyRecChainsToProc
		f, err := firfilter.New(p.RecKernel, p.RecUp, p.RecDown, p.SymTol)
		if err != nil {
			return nil, err
		}
		d.recFilter = f
		chain, err := firfilter.New(p.ProcKernel, 1, p.ProcDown/p.RecDown, p.SymTol)
		if err != nil {
			return nil, err
		}
		d.chainFilter = chain

	case p.ProcDown > 1 && p.RecDown > 1 && p.RecDown%p.ProcDown == 0:
		d.strat = strategyProcChainsToRec
		f, err := firfilter.New(p.ProcKernel, p.ProcUp, p.ProcDown, p.SymTol)
		if err != nil {
			return nil, err
		}
		d.procFilter = f
		chain, err := firfilter.New(p.RecKernel, 1, p.RecDown/p.ProcDown, p.SymTol)
		if err != nil {
			return nil, err
		}
		d.chainFilter = chain

	default:
		d.strat = strategyIndependent
		if p.ProcDown > 1 || p.ProcUp > 1 {
			f, err := firfilter.New(p.ProcKernel, p.ProcUp, p.ProcDown, p.SymTol)
			if err != nil {
				return nil, err
			}
			d.procFilter = f
		}
		if p.RecDown > 1 || p.RecUp > 1 {
			f, err := firfilter.New(p.RecKernel, p.RecUp, p.RecDown, p.SymTol)
			if err != nil {
				return nil, err
			}
			d.recFilter = f
		}
	}

	return d, nil
}

// Lengths is the pair predicted by ProcessedLengths.
type Lengths struct {
	Proc int
	Rec  int
}

// ProcessedLengths predicts the two output lengths Process will produce
// for an input of length n, so the caller can preallocate.
func (d *Downsampler) ProcessedLengths(n int) Lengths {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lengthsLocked(n)
}

func (d *Downsampler) lengthsLocked(n int) Lengths {
	switch d.strat {
	case strategyRecChainsToProc:
		recLen := d.recFilter.ProcessedLength(n)
		return Lengths{Proc: d.chainFilter.ProcessedLength(recLen), Rec: recLen}
	case strategyProcChainsToRec:
		procLen := d.procFilter.ProcessedLength(n)
		return Lengths{Proc: procLen, Rec: d.chainFilter.ProcessedLength(procLen)}
	default:
		proc := n
		if d.procFilter != nil {
			proc = d.procFilter.ProcessedLength(n)
		}
		rec := n
		if d.recFilter != nil {
			rec = d.recFilter.ProcessedLength(n)
		}
		return Lengths{Proc: proc, Rec: rec}
	}
}

// Output carries the two derived streams from a single Process call,
// each stream's own calc/ref timestamps decimated in lock-step with its
// signal by the underlying FIR chain(s).
type Output struct {
	Proc sample.Chunk
	Rec  sample.Chunk
}

// Process runs one chunk of raw capture samples through both chains.
// Time channels are decimated using each chain's own phase, never
// recomputed from scratch, so ordering survives arbitrary chunk
// boundaries exactly as the underlying firfilter engines guarantee.
func (d *Downsampler) Process(in sample.Chunk) Output {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch d.strat {
	case strategyRecChainsToProc:
		recSignal, recCalc, recRef := d.runFiltered(d.recFilter, in)
		recChunk := sample.Chunk{Calc: recCalc, Ref: recRef, Signal: recSignal}
		procSignal, procCalc, procRef := d.runFiltered(d.chainFilter, recChunk)
		return Output{
			Proc: sample.Chunk{Calc: procCalc, Ref: procRef, Signal: procSignal},
			Rec:  recChunk,
		}

	case strategyProcChainsToRec:
		procSignal, procCalc, procRef := d.runFiltered(d.procFilter, in)
		procChunk := sample.Chunk{Calc: procCalc, Ref: procRef, Signal: procSignal}
		recSignal, recCalc, recRef := d.runFiltered(d.chainFilter, procChunk)
		return Output{
			Proc: procChunk,
			Rec:  sample.Chunk{Calc: recCalc, Ref: recRef, Signal: recSignal},
		}

	default:
		var proc, rec sample.Chunk
		if d.procFilter != nil {
			s, c, r := d.runFiltered(d.procFilter, in)
			proc = sample.Chunk{Calc: c, Ref: r, Signal: s}
		} else {
			proc = in
		}
		if d.recFilter != nil {
			s, c, r := d.runFiltered(d.recFilter, in)
			rec = sample.Chunk{Calc: c, Ref: r, Signal: s}
		} else {
			rec = in
		}
		return Output{Proc: proc, Rec: rec}
	}
}

// runFiltered drives a FIR chain over in.Signal and decimates in.Calc/
// in.Ref to match, snapshotting the filter's phase before Process
// mutates it (the contract DecimateIndices relies on).
func (d *Downsampler) runFiltered(f *firfilter.Filter, in sample.Chunk) (signal []float64, calc []time.Duration, ref []time.Time) {
	phase := f.Phase()
	signal = f.Process(in.Signal)
	idx := f.DecimateIndices(phase, in.Len())

	calc = make([]time.Duration, 0, len(idx))
	ref = make([]time.Time, 0, len(idx))
	for _, i := range idx {
		if i < 0 || i >= in.Len() {
			continue
		}
		calc = append(calc, in.Calc[i])
		ref = append(ref, in.Ref[i])
	}
	if len(calc) > len(signal) {
		calc = calc[:len(signal)]
		ref = ref[:len(signal)]
	}
	return signal, calc, ref
}
