/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

var gameIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{5}$`)

// joinURL builds the link a guesser opens to join gameID.
func joinURL(cfg *Config, r *http.Request, gameID string) string {
	scheme := cfg.scheme()
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     cfg.prefix + "/",
		RawQuery: url.Values{"game": {strings.ToUpper(gameID)}}.Encode(),
	}

	return u.String()
}

// serveQR renders a PNG QR code pointing at the join link for a game.
func serveQR(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		gameID := p.ByName("gameid")
		if !gameIDPattern.MatchString(gameID) {
			http.Error(w, "invalid game id", http.StatusBadRequest)

			return
		}

		png, err := qrcode.Encode(joinURL(cfg, r, gameID), qrcode.Medium, qrSize)
		if err != nil {
			reportError(errs, err)

			http.Error(w, "qr generation failed", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		securityHeaders(cfg, w)

		_, err = w.Write(png)
		if err != nil {
			reportError(errs, err)

			return
		}
	}
}
