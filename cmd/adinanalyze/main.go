package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/soypat/adin2111/regs"
	"github.com/soypat/adin2111/wire"
	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
)

// Optional flags.
var (
	timingsOutput string
)

type Filter struct {
	OmitRead       bool
	OmitWrite      bool
	OmitStreamData bool
	// OmitStatus drops STATUS0/STATUS1 polls.
	OmitStatus bool
}

func main() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "adinanalyze - Process Binary Saleae digital data files corresponding to ADIN2111 SPI transactions.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: SPI CS/SS data.")
	mosi := flag.String("f-mosi", "digital_1.bin", "Input filename: SPI MOSI (controller out) data.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: SPI SCLK data.")
	miso := flag.String("f-miso", "digital_3.bin", "Input filename: SPI MISO (controller in) data.")
	output := flag.String("o-cmd", "commands.txt", "Output filename of ADIN2111 register transactions.")
	flag.StringVar(&timingsOutput, "o-time", "", "Output timing data to a file corresponding to output command history line-by-line.")

	omitReadAll := flag.Bool("omit-read", false, "Choose to omit read transactions in output.")
	omitWriteAll := flag.Bool("omit-write", false, "Choose to omit write transactions in output.")
	omitStream := flag.Bool("omit-stream-data", false, "Print only the frame header of FIFO transactions.")
	omitStatus := flag.Bool("omit-status", false, "Omit STATUS0 and STATUS1 accesses, usually interrupt polling.")
	flag.Parse()
	filter := Filter{
		OmitRead:       *omitReadAll,
		OmitWrite:      *omitWriteAll,
		OmitStreamData: *omitStream,
		OmitStatus:     *omitStatus,
	}
	if filter.OmitRead && filter.OmitWrite {
		log.Fatal("cannot omit both read and write transactions")
	}
	start := time.Now()
	if err := filter.run(*mosi, *miso, *enable, *clk, *output); err != nil {
		log.Fatal(err.Error())
	}
	slog.Info("finished", slog.Duration("elapsed", time.Since(start)))
}

func (f *Filter) run(mosi, miso, enable, clk, output string) error {
	txs, err := processSpiFiles(mosi, miso, clk, enable)
	if err != nil {
		return err
	}
	fp, err := os.Create(output)
	if err != nil {
		return err
	}
	defer fp.Close()

	var timings io.Writer
	if timingsOutput != "" {
		slog.Info("creating timings file", slog.String("file", timingsOutput))
		tf, err := os.Create(timingsOutput)
		if err != nil {
			return err
		}
		defer tf.Close()
		timings = tf
	}
	return f.write(fp, timings, txs)
}

func (f *Filter) write(w, timings io.Writer, txs []adintx) error {
	for _, tx := range txs {
		if !f.keep(tx) {
			continue
		}
		if _, err := fmt.Fprintln(w, f.format(tx)); err != nil {
			return err
		}
		if timings != nil {
			fmt.Fprintf(timings, "t=%f\taddr=%s\n", tx.Start, regs.Name(tx.Addr))
		}
	}
	return nil
}

func (f *Filter) keep(tx adintx) bool {
	switch {
	case f.OmitRead && tx.Dir == wire.Read, f.OmitWrite && tx.Dir == wire.Write:
		return false
	case f.OmitStatus && (tx.Addr == regs.STATUS0 || tx.Addr == regs.STATUS1):
		return false
	}
	return true
}

func (f *Filter) format(tx adintx) string {
	s := fmt.Sprintf("cmd×%2d %-5s %-14s", tx.Num, tx.Dir, regs.Name(tx.Addr))
	switch {
	case tx.Err != nil:
		return s + " err=" + tx.Err.Error() + fmt.Sprintf(" raw=%#x", tx.Raw)
	case tx.Stream:
		s += fmt.Sprintf(" port=%d len=%4d", tx.Port, len(tx.Data))
		if !f.OmitStreamData {
			s += fmt.Sprintf(" data=%#x", tx.Data)
		}
		return s
	}
	s += fmt.Sprintf(" val=%#x", tx.Value)
	switch tx.Addr {
	case regs.STATUS0:
		s += " [" + regs.Status0(tx.Value).String() + "]"
	case regs.STATUS1:
		s += " [" + regs.Status1(tx.Value).String() + "]"
	}
	return s
}

func processSpiFiles(fmosi, fmiso, fclk, fenable string) ([]adintx, error) {
	mosi, err := opendigital(fmosi)
	if err != nil {
		return nil, err
	}
	miso, err := opendigital(fmiso)
	if err != nil {
		return nil, err
	}
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, enable, mosi, miso)
	return process(txs), nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	df, err := saleae.ReadDigitalFile(fp)
	if err != nil {
		return nil, err
	}
	return df, nil
}

// adintx is a decoded chip select framed transaction. Identical consecutive
// transactions are collapsed and counted in Num.
type adintx struct {
	Num    int
	Dir    wire.Direction
	Addr   regs.Addr
	Value  uint32
	Stream bool
	Port   int
	// Data is the frame carried by a FIFO transaction.
	Data  []byte
	Raw   []byte
	Err   error
	Start float64
}

func (tx adintx) same(other adintx) bool {
	return tx.Dir == other.Dir && tx.Addr == other.Addr && tx.Value == other.Value &&
		tx.Stream == other.Stream && tx.Port == other.Port && bytes.Equal(tx.Data, other.Data) &&
		(tx.Err == nil) == (other.Err == nil)
}

// decode interprets the controller-out bytes sdo and the device response sdi
// of one transaction.
func decode(sdo, sdi []byte) (tx adintx) {
	tx.Raw = sdo
	dir, addr, err := wire.ParseHeader(sdo)
	if err != nil {
		tx.Err = err
		return tx
	}
	tx.Dir, tx.Addr = dir, addr
	if regs.IsStream(addr) {
		tx.Stream = true
		payload := sdo
		if dir == wire.Read {
			payload = sdi
		}
		if len(payload) < wire.HeaderLen {
			tx.Err = &wire.ProtocolError{Kind: wire.KindMalformed, Addr: addr, Got: len(payload), Want: wire.HeaderLen}
			return tx
		}
		hdr, err := wire.ParseFrameHeader(payload[wire.HeaderLen:])
		if err != nil {
			tx.Err = err
			return tx
		}
		tx.Port = hdr.Port()
		tx.Data = payload[wire.HeaderLen+wire.FrameHeaderLen:]
		return tx
	}
	rtx, err := wire.ParseTransaction(sdo)
	if err != nil {
		tx.Err = err
		return tx
	}
	tx.Value = rtx.Value
	if dir == wire.Read {
		tx.Value, tx.Err = wire.Decode(rtx, sdi)
	}
	return tx
}

func process(txs []analyzers.TxSPI) (out []adintx) {
	for i := 0; i < len(txs); i++ {
		tx := decode(txs[i].SDO, txs[i].SDI)
		tx.Num = 1
		tx.Start = txs[i].StartTime()
		for j := i + 1; j < len(txs); j++ {
			if !tx.same(decode(txs[j].SDO, txs[j].SDI)) {
				break
			}
			tx.Num++
			i = j
		}
		out = append(out, tx)
	}
	return out
}
