package main

import (
	"flag"
	"fmt"
	"os"
)

const usage = `rrtool - утилита оператора для файлов записи

Команды:
  list   [-dir d] [-sort name|time] [pattern]   список записей
  info   <file>                                 заголовок файла
  dump   [-n N] [-hidden] <file>                 записи файла
  verify <file>                                 проверка целостности
  pack   [-rm] <file>                           сжать в <file>.zst
  unpack [-rm] <file.zst>                       распаковать
  token  -name op [-admin] [-ttl 24h] [-secret base64]  выдать токен оператора
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "list":
		err = runList(os.Stdout, args)
	case "info":
		err = runInfo(os.Stdout, args)
	case "dump":
		err = runDump(os.Stdout, args)
	case "verify":
		err = runVerify(os.Stdout, args)
	case "pack":
		err = runPack(os.Stdout, args)
	case "unpack":
		err = runUnpack(os.Stdout, args)
	case "token":
		err = runToken(os.Stdout, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "❌ Неизвестная команда: %s\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "❌ %s: %v\n", cmd, err)
		os.Exit(1)
	}
}
