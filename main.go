package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/aarsakian/ImageAccess/crypt"
	"github.com/aarsakian/ImageAccess/img"
	IMGLogger "github.com/aarsakian/ImageAccess/logger"
	"github.com/aarsakian/ImageAccess/volume"
)

func checkErr(err error, msg string) {
	if err != nil {
		log.Fatalln(msg, err)
	}
}

func main() {
	evidencefile := flag.String("evidence", "", "path to image file (EWF/VMDK/Raw formats are supported, first segment for split images)")
	format := flag.String("format", "", "force the image format (raw, ewf, vmdk, mmap, physicalDrive), default is selected from the file name")
	sectorSize := flag.Int("sectorsize", 0, "sector size hint in bytes, default 512")
	cacheChunks := flag.Int("cachechunks", 0, "number of 64KiB chunks kept in the read cache, default 32")
	nocache := flag.Bool("nocache", false, "disable the chunk cache and use sector aligned reads")

	offset := flag.Int64("offset", 0, "offset in bytes to read from")
	length := flag.Int("length", 0, "number of bytes to read and hex dump")
	showSegments := flag.Bool("segments", false, "list the discovered segment files")
	volinfo := flag.Bool("info", false, "show image information")

	volumeOffset := flag.Int64("volumeoffset", -1, "offset in bytes to the volume start, enables volume relative reads")
	blockSize := flag.Int("blocksize", 512, "volume block size in bytes")
	xtsKey := flag.String("xtskey", "", "hex encoded AES-XTS key of an encrypted volume")
	cbcKeys := flag.String("cbckeys", "", "hex encoded AES-CBC data and IV keys of an encrypted volume, use comma as a seperator")

	logactive := flag.Bool("log", false, "enable logging")

	flag.Parse() //ready to parse

	IMGLogger.InitializeLogger(*logactive, "imageaccess.log")

	if *evidencefile == "" {
		log.Fatalln("no evidence file provided, use -evidence")
	}

	image, err := img.Open([]string{*evidencefile}, img.Options{
		SectorSize:   *sectorSize,
		CacheChunks:  *cacheChunks,
		DisableCache: *nocache,
		Format:       *format,
	})
	checkErr(err, "failed to open image")
	defer image.Close()

	if *volinfo {
		fmt.Printf("%s\n", image.Describe())
	}

	if *showSegments {
		for idx, segment := range image.Segments() {
			fmt.Printf("segment %d %s\n", idx+1, segment)
		}
	}

	if *length > 0 {
		buf := make([]byte, *length)
		var n int
		if *volumeOffset >= 0 {
			vol, err := volume.NewVolume(image, *volumeOffset, *blockSize, 0)
			checkErr(err, "failed to create volume view")

			decryptor, err := buildDecryptor(*xtsKey, *cbcKeys, *blockSize)
			checkErr(err, "failed to initialize decryption")
			if decryptor != nil {
				vol.SetDecryptor(decryptor)
			}

			n, err = vol.Read(buf, *offset)
			checkErr(err, "volume read failed")
		} else {
			n, err = image.ReadAt(buf, *offset)
			checkErr(err, "image read failed")
		}
		fmt.Print(hex.Dump(buf[:n]))
	}
}

func buildDecryptor(xtsKey string, cbcKeys string, blockSize int) (crypt.BlockDecryptor, error) {
	if xtsKey != "" {
		key, err := hex.DecodeString(xtsKey)
		if err != nil {
			return nil, fmt.Errorf("bad xts key: %w", err)
		}
		return crypt.NewXTSDecryptor(key, blockSize)
	}
	if cbcKeys != "" {
		parts := strings.Split(cbcKeys, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("cbc keys must be two comma separated hex strings")
		}
		key, err := hex.DecodeString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("bad cbc data key: %w", err)
		}
		ivKey, err := hex.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("bad cbc iv key: %w", err)
		}
		return crypt.NewCBCDecryptor(key, ivKey, blockSize)
	}
	return nil, nil
}
