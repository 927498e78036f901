// Package sx1276 drives a Semtech SX127x (HopeRF RFM95/96/97/98) in LoRa mode over SPI.
//
// The driver is synchronous: Receive puts the chip in continuous receive and waits for RxDone,
// either on the DIO0 interrupt pin or, when no pin is given, by polling the IRQ flags register.
// Packets that fail the radio's payload CRC are dropped.
package sx1276

import (
	"errors"
	"fmt"
	"io"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"rfm-gateway/internal/config"
	"rfm-gateway/internal/radio"
)

const (
	spiSpeed     = 4 * physic.MegaHertz
	pollInterval = 5 * time.Millisecond
	txTimeout    = 2 * time.Second
)

var ErrVersion = errors.New("sx1276: unexpected chip version")

type Options struct {
	FrequencyMHz    float64
	TxPower         int
	SpreadingFactor int
	BandwidthHz     int
	CodingRate      int
	CRC             bool
}

func OptionsFromConfig(cfg config.RadioConfig) Options {
	return Options{
		FrequencyMHz:    cfg.FrequencyMHz,
		TxPower:         cfg.TxPower,
		SpreadingFactor: cfg.SpreadingFactor,
		BandwidthHz:     cfg.BandwidthHz,
		CodingRate:      cfg.CodingRate,
		CRC:             cfg.CRC,
	}
}

// Radio is an initialised SX127x. It is not safe for concurrent use; radio.Link serialises
// access.
type Radio struct {
	regs   *regIO
	irq    gpio.PinIn
	port   io.Closer
	opMode byte
	hfPort bool
}

var _ radio.Transceiver = (*Radio)(nil)

// Open initialises the periph host drivers, opens the SPI port and pins named in cfg and
// configures the chip.
func Open(cfg config.RadioConfig) (*Radio, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("sx1276: host init: %w", err)
	}
	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("sx1276: open spi %s: %w", cfg.SPIPort, err)
	}
	bus, err := port.Connect(spiSpeed, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("sx1276: connect spi %s: %w", cfg.SPIPort, err)
	}

	var reset gpio.PinOut
	if cfg.ResetPin != "" {
		p := gpioreg.ByName(cfg.ResetPin)
		if p == nil {
			_ = port.Close()
			return nil, fmt.Errorf("sx1276: unknown reset pin %s", cfg.ResetPin)
		}
		reset = p
	}
	var irq gpio.PinIn
	if cfg.DIO0Pin != "" {
		p := gpioreg.ByName(cfg.DIO0Pin)
		if p == nil {
			_ = port.Close()
			return nil, fmt.Errorf("sx1276: unknown dio0 pin %s", cfg.DIO0Pin)
		}
		if err := p.In(gpio.PullNoChange, gpio.RisingEdge); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("sx1276: dio0 edge detection: %w", err)
		}
		irq = p
	}

	r, err := New(bus, irq, reset, OptionsFromConfig(cfg))
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	r.port = port
	return r, nil
}

// New configures a chip reachable over bus. irq and reset may be nil.
func New(bus spi.Conn, irq gpio.PinIn, reset gpio.PinOut, opts Options) (*Radio, error) {
	r := &Radio{
		regs:   &regIO{bus: bus},
		irq:    irq,
		hfPort: opts.FrequencyMHz >= hfPortMinMHz,
	}
	if opts.FrequencyMHz < lowFreqMaxMHz {
		r.opMode = modeLowFreq
	}

	if reset != nil {
		if err := reset.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("sx1276: reset: %w", err)
		}
		time.Sleep(100 * time.Microsecond)
		if err := reset.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("sx1276: reset: %w", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if v := r.regs.read(regVersion); r.regs.err == nil && v != chipVersion {
		return nil, fmt.Errorf("%w: %#x", ErrVersion, v)
	}

	// LoRa mode can only be selected while asleep.
	r.setMode(modeSleep)
	time.Sleep(10 * time.Millisecond)
	for i := 0; i < len(initRegs)-1; i += 2 {
		r.regs.write(initRegs[i], initRegs[i+1])
	}
	r.setMode(modeStandby)

	msb, mid, lsb := FrequencyRegisters(opts.FrequencyMHz)
	r.regs.write(regFrfMsb, msb, mid, lsb)

	c1, c2, c3, err := ModemConfig(opts.BandwidthHz, opts.CodingRate, opts.SpreadingFactor, opts.CRC)
	if err != nil {
		return nil, err
	}
	r.regs.write(regModemConf1, c1)
	r.regs.write(regModemConf2, c2)
	r.regs.write(regModemConf3, c3)
	detectOpt, detectThr := byte(0x03), byte(0x0A)
	if opts.SpreadingFactor == 6 {
		detectOpt, detectThr = 0x05, 0x0C
	}
	r.regs.write(regDetectOpt, detectOpt)
	r.regs.write(regDetectThr, detectThr)

	pa, dac := PowerRegisters(opts.TxPower)
	r.regs.write(regPaConfig, pa)
	r.regs.write(regPaDac, dac)

	if r.regs.err != nil {
		return nil, fmt.Errorf("sx1276: configure: %w", r.regs.err)
	}
	return r, nil
}

// FrequencyRegisters returns the RegFrf bytes for a carrier in MHz (Fstep = 32MHz / 2^19).
func FrequencyRegisters(mhz float64) (byte, byte, byte) {
	frf := (uint64(mhz*1e6) << 19) / fxoscHz
	return byte(frf >> 16), byte(frf >> 8), byte(frf)
}

// ModemConfig returns RegModemConfig1..3 for the given bandwidth, coding rate denominator
// (5-8 for 4/5-4/8) and spreading factor, in explicit header mode.
func ModemConfig(bandwidthHz, codingRate, spreadingFactor int, crc bool) (byte, byte, byte, error) {
	bw := -1
	for i, hz := range config.Bandwidths {
		if hz == bandwidthHz {
			bw = i
			break
		}
	}
	if bw < 0 {
		return 0, 0, 0, fmt.Errorf("sx1276: unsupported bandwidth %d", bandwidthHz)
	}
	if codingRate < 5 || codingRate > 8 {
		return 0, 0, 0, fmt.Errorf("sx1276: unsupported coding rate 4/%d", codingRate)
	}
	if spreadingFactor < 6 || spreadingFactor > 12 {
		return 0, 0, 0, fmt.Errorf("sx1276: unsupported spreading factor %d", spreadingFactor)
	}

	c1 := byte(bw)<<4 | byte(codingRate-4)<<1
	c2 := byte(spreadingFactor) << 4
	if crc {
		c2 |= 0x04
	}
	c3 := byte(0x04) // AGC auto
	// low data rate optimisation is mandatory once a symbol lasts longer than 16ms
	symbolMs := float64(int(1)<<spreadingFactor) * 1000 / float64(bandwidthHz)
	if symbolMs > 16 {
		c3 |= 0x08
	}
	return c1, c2, c3, nil
}

// PowerRegisters returns RegPaConfig and RegPaDac for PA_BOOST output at dBm (5-23). Above
// 20dBm the high power DAC adds 3dB.
func PowerRegisters(dBm int) (byte, byte) {
	switch {
	case dBm < 5:
		dBm = 5
	case dBm > 23:
		dBm = 23
	}
	dac := byte(0x84)
	if dBm > 20 {
		dac = 0x87
		dBm -= 3
	}
	return 0xF0 | byte(dBm-5)&0x0F, dac
}

func (r *Radio) Receive(timeout time.Duration) (*radio.Packet, error) {
	r.regs.write(regDioMapping1, dioRxDone)
	r.setMode(modeRxCont)
	if r.regs.err != nil {
		return nil, r.fail("start receive")
	}

	got, err := r.waitFlags(irqRxDone, timeout)
	if err != nil {
		return nil, err
	}
	if !got {
		return nil, nil
	}
	at := time.Now()

	r.setMode(modeStandby)
	flags := r.regs.read(regIrqFlags)
	r.regs.write(regIrqFlags, 0xFF)
	if r.regs.err != nil {
		return nil, r.fail("read packet")
	}
	if flags&irqCrcErr != 0 {
		return nil, nil
	}

	n := r.regs.read(regRxBytes)
	cur := r.regs.read(regFifoRxCurr)
	r.regs.write(regFifoPtr, cur)
	data := r.regs.readFifo(int(n))
	snr := int(int8(r.regs.read(regPktSnr))) / 4
	raw := int(r.regs.read(regPktRssi))
	if r.regs.err != nil {
		return nil, r.fail("read packet")
	}

	rssi := raw - 164
	if r.hfPort {
		rssi = raw - 157
	}
	if snr < 0 {
		rssi += snr
	}
	return &radio.Packet{Data: data, RSSI: rssi, SNR: snr, At: at}, nil
}

func (r *Radio) Send(payload []byte) error {
	if len(payload) > maxPayload {
		return fmt.Errorf("sx1276: payload of %d bytes exceeds %d", len(payload), maxPayload)
	}
	r.setMode(modeStandby)
	r.regs.write(regFifoPtr, 0)
	r.regs.writeFifo(payload)
	r.regs.write(regPayLength, byte(len(payload)))
	r.regs.write(regDioMapping1, dioTxDone)
	r.setMode(modeTx)
	if r.regs.err != nil {
		return r.fail("start transmit")
	}

	done, err := r.waitFlags(irqTxDone, txTimeout)
	if err != nil {
		return err
	}
	r.setMode(modeStandby)
	r.regs.write(regIrqFlags, 0xFF)
	if r.regs.err != nil {
		return r.fail("finish transmit")
	}
	if !done {
		return errors.New("sx1276: transmit timed out")
	}
	return nil
}

func (r *Radio) Close() error {
	r.setMode(modeSleep)
	err := r.regs.err
	if r.irq != nil {
		_ = r.irq.In(gpio.PullNoChange, gpio.NoEdge)
	}
	if r.port != nil {
		if cerr := r.port.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (r *Radio) setMode(mode byte) {
	r.regs.write(regOpMode, modeLongRange|r.opMode|mode)
}

// waitFlags waits until any bit of mask is raised in RegIrqFlags or timeout elapses.
func (r *Radio) waitFlags(mask byte, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		flags := r.regs.read(regIrqFlags)
		if r.regs.err != nil {
			return false, r.fail("read irq flags")
		}
		if flags&mask != 0 {
			return true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if r.irq != nil {
			r.irq.WaitForEdge(remaining)
			continue
		}
		time.Sleep(min(remaining, pollInterval))
	}
}

// fail returns the pending bus error and clears it so the next call starts clean.
func (r *Radio) fail(op string) error {
	err := fmt.Errorf("sx1276: %s: %w", op, r.regs.err)
	r.regs.err = nil
	return err
}

// regIO performs register transactions and keeps the first bus error; later calls are no-ops
// until the error is cleared.
type regIO struct {
	bus spi.Conn
	err error
}

// write sets one or more consecutive registers starting at addr (the chip auto-increments).
func (rio *regIO) write(addr byte, data ...byte) {
	if rio.err != nil {
		return
	}
	w := make([]byte, len(data)+1)
	w[0] = addr | 0x80
	copy(w[1:], data)
	rio.err = rio.bus.Tx(w, make([]byte, len(w)))
}

func (rio *regIO) read(addr byte) byte {
	if rio.err != nil {
		return 0
	}
	var buf [2]byte
	rio.err = rio.bus.Tx([]byte{addr & 0x7F, 0}, buf[:])
	return buf[1]
}

func (rio *regIO) writeFifo(data []byte) {
	rio.write(regFifo, data...)
}

func (rio *regIO) readFifo(n int) []byte {
	if rio.err != nil || n == 0 {
		return nil
	}
	w := make([]byte, n+1)
	w[0] = regFifo
	r := make([]byte, n+1)
	rio.err = rio.bus.Tx(w, r)
	return r[1:]
}
