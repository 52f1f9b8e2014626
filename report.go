package main

import (
	"fmt"
	"io"

	"github.com/aarsakian/VMDK_Dump/extent"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

var (
	metadataColor = color.New(color.Faint).SprintfFunc()
	stopColor     = color.New(color.FgGreen).SprintfFunc()
)

type reporter struct {
	out   io.Writer
	quiet bool
}

func newReporter(out io.Writer, quiet bool) *reporter {
	return &reporter{out: out, quiet: quiet}
}

func (rep *reporter) event(ev extent.Event) {
	if rep.quiet {
		return
	}
	switch m := ev.Marker.(type) {
	case extent.GrainMarker:
		if ev.Inflated >= 0 {
			fmt.Fprintf(rep.out, "%X: LBA %X, 0x%X bytes -> 0x%X bytes\n", m.Offset, uint64(m.LBA), m.Size, ev.Inflated)
		} else {
			fmt.Fprintf(rep.out, "%X: LBA %X, 0x%X bytes\n", m.Offset, uint64(m.LBA), m.Size)
		}
	case extent.MetadataMarker:
		if ev.State == extent.StateFooter {
			fmt.Fprintln(rep.out, stopColor("Footer marker encountered - stopping processing."))
			return
		}
		fmt.Fprintln(rep.out, metadataColor("Skipping marker of type %d (%s)", uint32(m.Type), m.Type))
	default:
		if ev.State == extent.StateEndOfInput {
			fmt.Fprintln(rep.out, stopColor("No marker at %X - end of stream.", ev.Next))
		}
	}
}

func (rep *reporter) inspectSummary(result extent.Result) {
	fmt.Fprintf(rep.out, "\n%d data grains, %d metadata markers, stopped at %s.\n",
		result.Grains, result.Metadata, result.Terminal)
}

func (rep *reporter) dumpSummary(result extent.Result) {
	fmt.Fprintf(rep.out, "\n%d data grains, %d holes (%s), raw image size %s",
		result.Grains, result.Holes, humanize.IBytes(uint64(result.HoleBytes)),
		humanize.IBytes(uint64(result.LogicalSize)))
	if result.Allocated >= 0 {
		fmt.Fprintf(rep.out, ", %s allocated", humanize.IBytes(uint64(result.Allocated)))
	}
	fmt.Fprintf(rep.out, ", stopped at %s.\n", result.Terminal)
}

// progress follows the read cursor through the source file.
type progress struct {
	container *mpb.Progress
	bar       *mpb.Bar
	total     int64
}

func newProgress(out io.Writer, total int64) *progress {
	container := mpb.New(mpb.WithOutput(out), mpb.WithWidth(64))
	bar := container.AddBar(total,
		mpb.PrependDecorators(
			decor.Name("reconstructing", decor.WC{W: len("reconstructing") + 1, C: decor.DidentRight}),
			decor.CountersKibiByte("% .1f / % .1f"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return &progress{container: container, bar: bar, total: total}
}

func (p *progress) wrap(observer func(extent.Event)) func(extent.Event) {
	return func(ev extent.Event) {
		next := ev.Next
		if next > p.total {
			next = p.total
		}
		p.bar.SetCurrent(next)
		if observer != nil {
			observer(ev)
		}
	}
}

func (p *progress) finish(ok bool) {
	if p == nil {
		return
	}
	if ok {
		p.bar.SetTotal(p.bar.Current(), true)
	} else {
		p.bar.Abort(false)
	}
	p.container.Wait()
}
