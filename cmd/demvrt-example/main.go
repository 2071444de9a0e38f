package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/terrastitch/go-demvrt"
)

func parseBounds(s string) (demvrt.Bounds, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return demvrt.Bounds{}, errors.New("bbox must be minlon,minlat,maxlon,maxlat")
	}
	values := make([]float64, 4)
	for i, field := range fields {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return demvrt.Bounds{}, err
		}
		values[i] = value
	}
	return demvrt.Bounds{MinX: values[0], MinY: values[1], MaxX: values[2], MaxY: values[3]}, nil
}

func run() error {
	bbox := flag.String("bbox", "", "bounding box as minlon,minlat,maxlon,maxlat")
	zoom := flag.Int("zoom", demvrt.DefaultZoom, "zoom level")
	pixelSize := flag.Float64("pixel-size", 0, "desired ground resolution in meters per pixel")
	vrtPath := flag.String("vrt", "", "write the mosaic as a VRT file to this path")
	verbose := flag.Bool("verbose", false, "log tile fetches")
	flag.Parse()

	if *bbox == "" {
		return errors.New("syntax: demvrt-example -bbox minlon,minlat,maxlon,maxlat [-zoom z | -pixel-size m] [-vrt out.vrt] [longitude latitude]")
	}
	bounds, err := parseBounds(*bbox)
	if err != nil {
		return err
	}

	options := []demvrt.MosaicOption{demvrt.WithZoom(*zoom)}
	if *pixelSize > 0 {
		options = append(options, demvrt.WithPixelSize(*pixelSize))
	}
	mosaic, err := demvrt.New(bounds, options...)
	if err != nil {
		return err
	}

	if *vrtPath != "" {
		if err := mosaic.WriteVRT(*vrtPath); err != nil {
			return err
		}
	}

	if flag.NArg() == 0 {
		return nil
	}
	if flag.NArg() != 2 {
		return errors.New("expected longitude and latitude arguments")
	}
	lon, err := strconv.ParseFloat(flag.Arg(0), 64)
	if err != nil {
		return err
	}
	lat, err := strconv.ParseFloat(flag.Arg(1), 64)
	if err != nil {
		return err
	}

	logger := zerolog.Nop()
	if *verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	session, err := demvrt.Open(mosaic, demvrt.WithLogger(logger))
	if err != nil {
		return err
	}
	defer session.Close()

	elevations, err := session.Samples4326(context.Background(), [][]float64{{lon, lat}})
	if err != nil {
		return err
	}
	fmt.Println(elevations[0])

	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
