package sx1276

// LoRa mode register map.
const (
	regFifo        = 0x00
	regOpMode      = 0x01
	regFrfMsb      = 0x06
	regPaConfig    = 0x09
	regOcp         = 0x0B
	regLna         = 0x0C
	regFifoPtr     = 0x0D
	regFifoTxBase  = 0x0E
	regFifoRxBase  = 0x0F
	regFifoRxCurr  = 0x10
	regIrqFlags    = 0x12
	regRxBytes     = 0x13
	regPktSnr      = 0x19
	regPktRssi     = 0x1A
	regModemConf1  = 0x1D
	regModemConf2  = 0x1E
	regPreambleMsb = 0x20
	regPreambleLsb = 0x21
	regPayLength   = 0x22
	regModemConf3  = 0x26
	regDetectOpt   = 0x31
	regDetectThr   = 0x37
	regDioMapping1 = 0x40
	regVersion     = 0x42
	regPaDac       = 0x4D
)

const (
	modeSleep     = 0x00
	modeStandby   = 0x01
	modeTx        = 0x03
	modeRxCont    = 0x05
	modeLongRange = 0x80
	modeLowFreq   = 0x08
)

const (
	irqRxTimeout = 1 << 7
	irqRxDone    = 1 << 6
	irqCrcErr    = 1 << 5
	irqTxDone    = 1 << 3
)

// DIO0 mapping in LoRa mode.
const (
	dioRxDone = 0x00
	dioTxDone = 0x40
)

const (
	chipVersion   = 0x12
	maxPayload    = 251
	fxoscHz       = 32000000
	hfPortMinMHz  = 779
	lowFreqMaxMHz = 525
)

// init pairs of <register, value> applied after the chip is put in LoRa sleep mode.
var initRegs = []byte{
	regOcp, 0x32, // over-current protection at 150mA
	regLna, 0x23, // max LNA gain, boost on
	regFifoTxBase, 0x00,
	regFifoRxBase, 0x00,
	regPreambleMsb, 0x00,
	regPreambleLsb, 0x08,
}
